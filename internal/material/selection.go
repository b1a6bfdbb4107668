package material

// SelectMaterial returns a copy of materials in which only the material with
// id is selected. The input slice is not modified. The boolean is false when
// no material has id, in which case nothing is selected.
func SelectMaterial(materials []CDMaterial, id int) ([]CDMaterial, bool) {
	out := make([]CDMaterial, len(materials))
	found := false
	for i, m := range materials {
		m.IsSelected = !found && m.ID == id
		if m.IsSelected {
			found = true
		}
		out[i] = m
	}
	return out, found
}

// ClearSelection returns a copy of materials with nothing selected
func ClearSelection(materials []CDMaterial) []CDMaterial {
	out := make([]CDMaterial, len(materials))
	for i, m := range materials {
		m.IsSelected = false
		out[i] = m
	}
	return out
}

// AppendPage merges a later page into resp and returns the result. Artifacts
// already present are skipped, the selection of resp is kept and nothing on
// the new page becomes selected. Indexes of appended materials continue from
// resp.NextOffset.
func AppendPage(resp, next CDMaterialResponse) CDMaterialResponse {
	merged := resp
	merged.Materials = make([]CDMaterial, 0, len(resp.Materials)+len(next.Materials))
	merged.Materials = append(merged.Materials, resp.Materials...)

	seen := make(map[int]struct{}, len(resp.Materials))
	for _, m := range resp.Materials {
		seen[m.ID] = struct{}{}
	}
	for _, m := range next.Materials {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		m.IsSelected = false
		m.Index += resp.NextOffset
		merged.Materials = append(merged.Materials, m)
	}

	if next.NextOffset > merged.NextOffset {
		merged.NextOffset = next.NextOffset
	}
	if next.TotalCount > 0 {
		merged.TotalCount = next.TotalCount
	}
	return merged
}
