package catalog

import "strings"

// NormalizeFlat converts the flat dotted-string form into the canonical map.
// Each entry must split into at least three segments
// (application.module.action); segments beyond the third are joined back
// into the action code. Malformed entries are dropped, not fatal; a role
// with zero valid permissions denotes "no access".
func NormalizeFlat(entries []string) PermissionMap {
	result := make(PermissionMap)
	for _, entry := range entries {
		segments := strings.Split(entry, ".")
		if len(segments) < 3 {
			continue
		}
		application := segments[0]
		module := segments[1]
		action := strings.Join(segments[2:], ".")
		if application == "" || module == "" || action == "" {
			continue
		}
		result.Grant(application, module, action)
	}
	return result
}

// NormalizeNested converts the nested mapping form into the canonical map.
// Empty application, module, or action names are dropped.
func NormalizeNested(nested map[string]map[string][]string) PermissionMap {
	result := make(PermissionMap)
	for application, modules := range nested {
		if application == "" {
			continue
		}
		for module, actions := range modules {
			if module == "" {
				continue
			}
			for _, action := range actions {
				if action == "" {
					continue
				}
				result.Grant(application, module, action)
			}
		}
	}
	return result
}

// MergePermissions unions any number of canonical maps into a new one.
// The inputs are not modified.
func MergePermissions(maps ...PermissionMap) PermissionMap {
	result := make(PermissionMap)
	for _, m := range maps {
		for application, modules := range m {
			for module, actions := range modules {
				for action := range actions {
					result.Grant(application, module, action)
				}
			}
		}
	}
	return result
}
