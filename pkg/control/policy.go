package control

// Policy decides how a newly arrived frame combines with the committed one.
// It must be pure; the coordinator calls it from the ingestion loop only.
type Policy func(prev, next Frame) Frame

// Replace is the default policy: the newest frame wins wholesale.
func Replace(_, next Frame) Frame {
	return next
}

// Blend returns a policy that moves the committed frame toward the new one by
// weight, clamped to [0, 1]. Blend(1) behaves like Replace.
func Blend(weight float64) Policy {
	switch {
	case weight <= 0:
		return func(prev, _ Frame) Frame { return prev }
	case weight >= 1:
		return Replace
	}
	return func(prev, next Frame) Frame {
		var out Frame
		for _, t := range Targets {
			p, n := prev.At(t), next.At(t)
			out.Set(t, Clamp(p+(n-p)*weight))
		}
		return out
	}
}

// PolicyByName resolves a policy configured by name: "replace" or "blend"
// (with the given weight). Unknown names fall back to Replace.
func PolicyByName(name string, weight float64) Policy {
	if name == "blend" {
		return Blend(weight)
	}
	return Replace
}
