package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/spf13/cobra"

	sonatacore "github.com/arborsim/sonatacore"
	"github.com/arborsim/sonatacore/cellbuilder"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("sonatacore: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cachePath string
	root := &cobra.Command{
		Use:   "sonatacore",
		Short: "Build and query a SONATA network description from a JSON configuration",
	}
	root.PersistentFlags().StringVar(&cachePath, "catalog-cache", "",
		"path to an on-disk catalog cache, rebuilt whenever the network's type tables or parameter documents change")
	root.AddCommand(newValidateCmd(&cachePath))
	root.AddCommand(newRunCmd(&cachePath))
	return root
}

func openNetwork(cfg *sonatacore.Config, cachePath string) (*sonatacore.Network, error) {
	if cachePath == "" {
		return sonatacore.OpenNetwork(cfg, nil, nil)
	}
	return sonatacore.OpenNetworkCached(cfg, nil, nil, cachePath)
}

func newValidateCmd(cachePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate CONFIG",
		Short: "Load a configuration and the network it describes, without building connection maps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sonatacore.LoadConfig(args[0])
			if err != nil {
				return err
			}
			net, err := openNetwork(cfg, *cachePath)
			if err != nil {
				return err
			}
			fmt.Printf("network valid: %d node populations, %d edge populations, %d nodes, %d edges\n",
				len(net.Nodes.Populations), len(net.Edges.Populations), net.Nodes.NumElements(), net.Edges.NumElements())
			return nil
		},
	}
}

func newRunCmd(cachePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run CONFIG",
		Short: "Build the full network description and IO description, and report recipe statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetwork(cmd.Context(), args[0], *cachePath)
		},
	}
}

func runNetwork(ctx context.Context, configPath, cachePath string) error {
	cfg, err := sonatacore.LoadConfig(configPath)
	if err != nil {
		return err
	}

	net, err := openNetwork(cfg, cachePath)
	if err != nil {
		return err
	}
	log.Printf("opened network: %d nodes, %d edges", net.Nodes.NumElements(), net.Edges.NumElements())

	model := sonatacore.NewModelDescription(net)
	groups, err := collectLocalGroups(net)
	if err != nil {
		return err
	}
	if err := model.BuildLocalMaps(ctx, groups); err != nil {
		return err
	}

	spikes, clamps, probeMap, probeGroups, err := buildIO(net, cfg)
	if err != nil {
		return err
	}
	io := sonatacore.NewIODescription(spikes, clamps, probeMap, probeGroups)

	recipe := sonatacore.NewRecipeAdapter(net, model, io, cellbuilder.ReferenceBuilder{}, cfg.Run.SpikeThreshold, cfg.Conditions.Celsius, cfg.Conditions.VInit)

	var cableCount, spikeSourceCount, connCount int
	for _, group := range groups {
		for _, gid := range group.Gids {
			if _, err := recipe.CellDescription(gid); err != nil {
				return fmt.Errorf("cell_description(%d): %w", gid, err)
			}
			conns, err := recipe.ConnectionsOn(gid)
			if err != nil {
				return fmt.Errorf("connections_on(%d): %w", gid, err)
			}
			connCount += len(conns)
			if group.Kind == sonatacore.CellCable {
				cableCount++
			} else {
				spikeSourceCount++
			}
		}
	}

	props := recipe.GlobalProperties()
	log.Printf("built %d cable cells, %d spike sources, %d incoming connections", cableCount, spikeSourceCount, connCount)
	log.Printf("global properties: temperature=%.2fK v_init=%.2fmV", props.TemperatureKelvin, props.VInit)

	if cfg.Outputs.SpikesFile != "" {
		if err := sonatacore.WriteSpikes(cfg.Outputs.SpikesFile, net.Nodes, spikes, cfg.Outputs.SpikesSortOrder); err != nil {
			return err
		}
		log.Printf("wrote spike inputs to %s", cfg.Outputs.SpikesFile)
	}

	return nil
}

func collectLocalGroups(net *sonatacore.Network) ([]sonatacore.GidGroup, error) {
	var cableGids, spikeGids []int
	for _, pop := range net.Nodes.Populations {
		size, err := pop.Group.DatasetSize("node_type_id")
		if err != nil {
			return nil, err
		}
		for i := 0; i < size; i++ {
			typeID, err := pop.Group.IntAt("node_type_id", i)
			if err != nil {
				return nil, err
			}
			typeRow := sonatacore.TypePopId{TypeTag: uint32(typeID), PopName: pop.Name}
			kind, err := net.NodeCat.CellKind(typeRow)
			if err != nil {
				return nil, err
			}
			gid, err := net.Nodes.Globalize(pop.Name, i)
			if err != nil {
				return nil, err
			}
			if kind == sonatacore.CellCable {
				cableGids = append(cableGids, gid)
			} else {
				spikeGids = append(spikeGids, gid)
			}
		}
	}
	return []sonatacore.GidGroup{
		{Kind: sonatacore.CellCable, Gids: cableGids},
		{Kind: sonatacore.CellSpikeSource, Gids: spikeGids},
	}, nil
}

func buildIO(net *sonatacore.Network, cfg *sonatacore.Config) (map[int][]float64, map[int][]sonatacore.CurrentClamp, map[int][]sonatacore.ProbeTraceInfo, map[string][]sonatacore.ProbeGroupEntry, error) {
	backend := sonatacore.NewGobBackend()

	nodeSets := map[string]sonatacore.NodeSet{}
	if cfg.NodeSetsFile != "" {
		var err error
		nodeSets, err = sonatacore.LoadNodeSets(cfg.NodeSetsFile)
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	spikes := make(map[int][]float64)
	clamps := make(map[int][]sonatacore.CurrentClamp)

	for name, in := range cfg.Inputs {
		switch in.InputType {
		case "spikes":
			population := in.Population
			if set, ok := nodeSets[in.NodeSet]; ok && population == "" {
				population = set.Population
			}
			if population == "" && len(net.Nodes.Populations) == 1 {
				population = net.Nodes.Populations[0].Name
			}
			sub, err := sonatacore.BuildSpikeInputs(net.Nodes, backend, []sonatacore.SpikeTableSource{{Path: in.InputFile, Population: population}})
			if err != nil {
				return nil, nil, nil, nil, fmt.Errorf("input %q: %w", name, err)
			}
			for gid, ts := range sub {
				spikes[gid] = append(spikes[gid], ts...)
			}
		case "current_clamp":
			sub, err := sonatacore.BuildCurrentClamps(net.Nodes, in.ElectrodeFile, in.InputFile)
			if err != nil {
				return nil, nil, nil, nil, fmt.Errorf("input %q: %w", name, err)
			}
			for gid, cc := range sub {
				clamps[gid] = append(clamps[gid], cc...)
			}
		}
	}
	for gid := range spikes {
		sort.Float64s(spikes[gid])
	}

	// All of a population's probes must go through one BuildProbeIndices
	// call, or the per-gid dense index restarts at 0 for every report.
	// Reports are visited in name order so the index assignment is stable
	// across runs.
	reportNames := make([]string, 0, len(cfg.Reports))
	for name := range cfg.Reports {
		reportNames = append(reportNames, name)
	}
	sort.Strings(reportNames)

	byPopulation := make(map[string][]sonatacore.ProbeDescriptor)
	for _, name := range reportNames {
		r := cfg.Reports[name]
		population := r.Population
		var nodeIDs []int
		if set, ok := nodeSets[r.NodeSet]; ok {
			if population == "" {
				population = set.Population
			}
			nodeIDs = set.IDs
		}
		if population == "" && len(net.Nodes.Populations) == 1 {
			population = net.Nodes.Populations[0].Name
		}
		byPopulation[population] = append(byPopulation[population], sonatacore.ProbeDescriptor{
			Kind:       sonatacore.ProbeKind(r.VariableName),
			Population: population,
			NodeIDs:    nodeIDs,
			Section:    r.SectionID,
			Position:   r.SectionPos,
			File:       r.ReportFile,
		})
	}

	probeMapOut := make(map[int][]sonatacore.ProbeTraceInfo)
	probeGroupsOut := make(map[string][]sonatacore.ProbeGroupEntry)
	for population, descriptors := range byPopulation {
		probeMap, probeGroups, err := sonatacore.BuildProbeIndices(net.Nodes, population, descriptors)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		for gid, entries := range probeMap {
			probeMapOut[gid] = append(probeMapOut[gid], entries...)
		}
		for file, entries := range probeGroups {
			probeGroupsOut[file] = append(probeGroupsOut[file], entries...)
		}
	}

	return spikes, clamps, probeMapOut, probeGroupsOut, nil
}
