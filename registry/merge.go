package registry

// MergeConfig folds override layers onto a base config in ascending
// precedence order (org before workspace). The merge is key-wise: a key
// present in a later layer replaces the earlier value wholesale, even
// when both values are objects. Nothing is merged recursively.
func MergeConfig(base map[string]any, layers ...*Layer) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		for k, v := range layer.Config {
			out[k] = v
		}
	}
	return out
}

// MergeFeatureFlags folds feature-flag layers the same way as MergeConfig.
func MergeFeatureFlags(base map[string]bool, layers ...*Layer) map[string]bool {
	out := make(map[string]bool, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		for k, v := range layer.FeatureFlags {
			out[k] = v
		}
	}
	return out
}
