package genome

// Tier is the subscription tier a project is billed under.
type Tier string

const (
	TierPresence Tier = "PRESENCE"
	TierBusiness Tier = "BUSINESS"
	TierScale    Tier = "SCALE"
)

// BadgeNodeID is the fixed id of the "Built with" badge block.
const BadgeNodeID = "__built_with_badge__"

var (
	sdfBlockTypes = map[string]struct{}{"sdf": {}, "sdf_constants": {}, "holographic": {}}
	sdfPropKeys   = []string{"sdf_constants", "wgsl_shader", "webgpu_pipeline"}
)

// SwapSDFAssetsForExport replaces every SDF/holographic block's GPU-only props
// with a WebGL GLTF fallback. Export pipelines call it before anything else.
func SwapSDFAssetsForExport(g Genome) Genome {
	if g == nil {
		return nil
	}
	out := make(Genome, len(g))
	for i, n := range g {
		out[i] = swapSDF(n)
	}
	return out
}

func swapSDF(n Node) Node {
	if _, ok := sdfBlockTypes[n.Type]; ok {
		props := n.Props.Clone()
		fallback, _ := props["gltf_fallback_url"].AsString()
		for _, k := range sdfPropKeys {
			delete(props, k)
		}
		props["renderer"] = String("webgl")
		props["render_mode"] = String("gltf")
		props["gltf_url"] = String(fallback)
		n.Props = props
	}
	children := make([]Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = swapSDF(c)
	}
	n.Children = children
	return n
}

// InjectBuiltWithBadge appends the badge block as the last top-level node for
// the PRESENCE tier (once) and strips it for paid tiers.
func InjectBuiltWithBadge(g Genome, tier Tier, f Factory) Genome {
	if tier != TierPresence {
		out := make(Genome, 0, len(g))
		for _, n := range g {
			if n.ID != BadgeNodeID {
				out = append(out, n)
			}
		}
		return out
	}
	for _, n := range g {
		if n.ID == BadgeNodeID {
			return g
		}
	}
	badge := f.CreateBlankNode("built-with-badge")
	badge.ID = BadgeNodeID
	badge.Metadata.Confidence = 1
	badge.Props = Props{
		"text":      String("Built with genomeforge"),
		"position":  String("bottom-right"),
		"removable": Bool(false),
	}
	return appendTop(g, badge)
}

// ApplyDirection sets a dir prop on every node for right-to-left layouts.
// Left-to-right returns g unchanged.
func ApplyDirection(g Genome, dir string) Genome {
	if dir != "rtl" {
		return g
	}
	out := make(Genome, len(g))
	for i, n := range g {
		out[i] = injectDir(n, dir)
	}
	return out
}

func injectDir(n Node, dir string) Node {
	n.Props = n.Props.Merge(Props{"dir": String(dir)})
	children := make([]Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = injectDir(c, dir)
	}
	n.Children = children
	return n
}
