package importer

// mergeRecords deep-merges overlay on top of base. Overlay fields win
// field-by-field, not record-wholesale: nested maps are merged key by key,
// everything else is replaced. Neither input is mutated.
func mergeRecords(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range overlay {
		bm, baseIsMap := out[k].(map[string]any)
		om, overlayIsMap := ov.(map[string]any)
		if baseIsMap && overlayIsMap {
			out[k] = mergeRecords(bm, om)
			continue
		}
		out[k] = ov
	}
	return out
}
