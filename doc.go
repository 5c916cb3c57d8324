// Package sonatacore ingests a SONATA-formatted neuronal network description
// and answers per-cell queries for a cable-based neural simulator: cell
// morphology, density mechanism placements, synaptic source/target sites,
// weighted-and-delayed connectivity, spike-train inputs, current-clamp
// stimuli, and voltage/current probe descriptors.
//
// The package resolves cell parameters through a three-layer chain (catalog
// defaults, per-type text-table overrides, per-instance binary-group
// overrides), assembles globally-consistent source/target indices across
// ranks with a single all-gather, and exposes the result through a
// thread-safe recipe adapter keyed by global cell id (gid).
//
// Basic usage:
//
//	cfg, err := sonatacore.LoadConfig("simulation_config.json")
//	if err != nil {
//		log.Fatalf("loading config: %v", err)
//	}
//
//	network, err := sonatacore.OpenNetwork(cfg, nil, nil)
//	if err != nil {
//		log.Fatalf("opening network: %v", err)
//	}
//
//	model := sonatacore.NewModelDescription(network)
//	if err := model.BuildLocalMaps(context.Background(), localGroups); err != nil {
//		log.Fatalf("building source/target maps: %v", err)
//	}
//
//	recipe := sonatacore.NewRecipeAdapter(network, model, io, cellbuilder.ReferenceBuilder{}, cfg.Run.SpikeThreshold, cfg.Conditions.Celsius, cfg.Conditions.VInit)
//	cell, err := recipe.CellDescription(gid)
package sonatacore
