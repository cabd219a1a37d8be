// Package slugs translates between department ids and the URL slugs used to
// address them, honouring the navigation page override table.
package slugs

import (
	"strings"

	"wikiportal/api/internal/store"
)

// Slugify lowercases and trims text, collapses every run of characters
// outside [a-z0-9] into one hyphen and strips leading and trailing hyphens.
// It never fails and Slugify(Slugify(x)) == Slugify(x).
func Slugify(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	b.Grow(len(lowered))
	pendingHyphen := false
	for i := 0; i < len(lowered); i++ {
		c := lowered[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteByte(c)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// DepartmentSlug returns the URL slug of a department. An unknown id is
// returned unchanged, and so is the id of a department whose name slugifies
// to nothing. A navigation page override is used only when its slug equals
// the computed slug.
func DepartmentSlug(id string, departments []store.Department, pages []store.NavigationPage) string {
	dept, ok := findDepartment(id, departments)
	if !ok {
		return id
	}
	computed := nameSlug(dept)
	for _, page := range pages {
		if page.Slug == computed {
			return page.Slug
		}
	}
	return computed
}

// DepartmentIDFromSlug prefers an exact navigation page slug, then a
// department whose computed slug equals slug.
func DepartmentIDFromSlug(slug string, departments []store.Department, pages []store.NavigationPage) (string, bool) {
	if slug == "" {
		return "", false
	}
	for _, page := range pages {
		if page.Slug == slug {
			return page.DepartmentID, true
		}
	}
	for _, dept := range departments {
		if nameSlug(dept) == slug {
			return dept.ID, true
		}
	}
	return "", false
}

// DepartmentURL builds "/<slug>" followed by "/seg" for each segment.
func DepartmentURL(id string, segments []string, departments []store.Department, pages []store.NavigationPage) string {
	url := "/" + DepartmentSlug(id, departments, pages)
	if len(segments) > 0 {
		url += "/" + strings.Join(segments, "/")
	}
	return url
}

// ResolveDepartment accepts either a department id or a slug. Ids win.
func ResolveDepartment(identifier string, departments []store.Department, pages []store.NavigationPage) (store.Department, bool) {
	if dept, ok := findDepartment(identifier, departments); ok {
		return dept, true
	}
	id, ok := DepartmentIDFromSlug(identifier, departments, pages)
	if !ok {
		return store.Department{}, false
	}
	return findDepartment(id, departments)
}

// nameSlug is the slugified department name, or the id when the name has
// no usable characters.
func nameSlug(dept store.Department) string {
	if slug := Slugify(dept.Name); slug != "" {
		return slug
	}
	return dept.ID
}

func findDepartment(id string, departments []store.Department) (store.Department, bool) {
	for _, dept := range departments {
		if dept.ID == id {
			return dept, true
		}
	}
	return store.Department{}, false
}
