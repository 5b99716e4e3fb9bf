package editor

import "fmt"

// layerIndex is the Resolver's lookup structure over a CanonicalState's
// layers: by id, and by (type, name) for rename-compatible matching.
type layerIndex struct {
	byID       map[LayerID]Layer
	byNameType map[string]LayerID
}

func buildLayerIndex(s CanonicalState) layerIndex {
	idx := layerIndex{byID: map[LayerID]Layer{}, byNameType: map[string]LayerID{}}
	for id, l := range s.Layers.ByID {
		idx.byID[id] = l
		idx.byNameType[nameTypeKey(l.Type, l.Name)] = id
	}
	return idx
}

func nameTypeKey(t LayerType, name string) string { return string(t) + "|" + name }

// resolveRefs walks sc collecting every referenced layer id and every id an
// Add-layer command within the same commit would create.
func resolveRefs(sc SerializedCommand, referenced map[LayerID]bool, created map[LayerID]bool) {
	switch sc.Type {
	case CmdAddLayer:
		if sc.Layer != nil {
			created[sc.Layer.ID] = true
		}
	case CmdAddAdjustmentLayer:
		created[sc.ID] = true
	case CmdRemoveLayer, CmdUpdateLayer, CmdUpdateAdjustmentParameters:
		if sc.ID != "" {
			referenced[sc.ID] = true
		}
	case CmdSetSelection:
		for id := range sc.IDs {
			referenced[id] = true
		}
	case CmdComposite:
		for _, child := range sc.Children {
			resolveRefs(child, referenced, created)
		}
	}
}

// remapSerializedCommand rewrites sc's ids per remap, reporting whether it
// should be dropped entirely: an Add-layer command whose remapped target id
// already exists in the destination is idempotent and replays as a no-op.
func remapSerializedCommand(sc SerializedCommand, remap map[LayerID]LayerID, existsInDst map[LayerID]bool) (SerializedCommand, bool) {
	out := sc
	switch sc.Type {
	case CmdAddLayer:
		if sc.Layer != nil {
			l := *sc.Layer
			if dst, ok := remap[l.ID]; ok && dst != l.ID && existsInDst[dst] {
				return out, true
			}
			if dst, ok := remap[l.ID]; ok {
				l.ID = dst
			}
			out.Layer = &l
		}
	case CmdAddAdjustmentLayer:
		if dst, ok := remap[sc.ID]; ok {
			if dst != sc.ID && existsInDst[dst] {
				return out, true
			}
			out.ID = dst
		}
	case CmdRemoveLayer, CmdUpdateLayer, CmdUpdateAdjustmentParameters:
		if dst, ok := remap[sc.ID]; ok {
			out.ID = dst
		}
	case CmdSetSelection:
		remapped := make(Selection, len(sc.IDs))
		for id := range sc.IDs {
			if dst, ok := remap[id]; ok {
				remapped[dst] = struct{}{}
			} else {
				remapped[id] = struct{}{}
			}
		}
		out.IDs = remapped
	case CmdComposite:
		children := make([]SerializedCommand, 0, len(sc.Children))
		for _, child := range sc.Children {
			remapped, drop := remapSerializedCommand(child, remap, existsInDst)
			if !drop {
				children = append(children, remapped)
			}
		}
		out.Children = children
	}
	return out, false
}

// resolveForeignCommit implements the conflict resolver: it
// remaps commit's layer ids from the world it was authored against
// (srcState) onto dst's current layers, by identity, by (type,name), or by
// preserving ids an Add-layer command in the same commit will (re)create.
// On success it returns the revived, remapped command ready for
// transactional application; on conflict it returns a *ConflictReport and
// leaves dst untouched.
func resolveForeignCommit(dst, src CanonicalState, commit *Commit) (Command, *ConflictReport, error) {
	if len(commit.Commands) == 0 {
		return nil, nil, fmt.Errorf("editor: commit %s has no commands", commit.ID)
	}
	sc, err := commit.Commands[0].Serialize()
	if err != nil {
		return nil, nil, err
	}

	srcIndex := buildLayerIndex(src)
	dstIndex := buildLayerIndex(dst)

	referenced, created := map[LayerID]bool{}, map[LayerID]bool{}
	resolveRefs(sc, referenced, created)

	remap := map[LayerID]LayerID{}
	var conflicts []Conflict
	for id := range referenced {
		if _, ok := dstIndex.byID[id]; ok {
			remap[id] = id
			continue
		}
		if srcLayer, ok := srcIndex.byID[id]; ok {
			if dstID, ok2 := dstIndex.byNameType[nameTypeKey(srcLayer.Type, srcLayer.Name)]; ok2 {
				remap[id] = dstID
				continue
			}
		}
		if created[id] {
			remap[id] = id
			continue
		}
		conflicts = append(conflicts, Conflict{
			Path:   fmt.Sprintf("layer:%s", id),
			Reason: "Missing target layer and no add-layer present",
		})
	}
	if len(conflicts) > 0 {
		return nil, &ConflictReport{Conflicts: conflicts}, nil
	}
	for id := range created {
		if _, ok := remap[id]; !ok {
			remap[id] = id
		}
	}

	existsInDst := make(map[LayerID]bool, len(dstIndex.byID))
	for id := range dstIndex.byID {
		existsInDst[id] = true
	}
	rewritten, _ := remapSerializedCommand(sc, remap, existsInDst)
	revived, err := DeserializeCommand(rewritten)
	if err != nil {
		return nil, nil, err
	}
	return revived, nil, nil
}
