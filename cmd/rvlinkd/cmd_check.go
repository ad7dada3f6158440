package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rvlink-network/rvlink/pkg/cli"
	"github.com/rvlink-network/rvlink/pkg/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration, catalog, and mapping without starting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Printf("%s configuration: %v\n", cli.Red("FAIL"), err)
			return err
		}
		fmt.Printf("%s configuration (%d CAN interface(s), server %s:%d)\n",
			cli.Green("OK"), len(cfg.CAN.Interfaces), cfg.Server.Host, cfg.Server.Port)

		catalog, m, err := loadSpecs(cfg)
		if err != nil {
			fmt.Printf("%s %v\n", cli.Red("FAIL"), err)
			return err
		}
		fmt.Printf("%s catalog version %s, %d PGNs\n", cli.Green("OK"), catalog.Version(), catalog.Len())
		fmt.Printf("%s mapping coach %q, %d entities\n", cli.Green("OK"), m.Coach(), m.Len())

		// Per-device-type binding summary.
		type typeCount struct{ total, controllable int }
		counts := map[string]*typeCount{}
		for _, b := range m.Entities() {
			c := counts[b.DeviceType]
			if c == nil {
				c = &typeCount{}
				counts[b.DeviceType] = c
			}
			c.total++
			if desc, ok := catalog.Lookup(b.PGN); ok && desc.Controllable {
				c.controllable++
			}
		}
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)

		fmt.Println()
		tbl := cli.NewTable("DEVICE TYPE", "ENTITIES", "CONTROLLABLE")
		for _, t := range types {
			c := counts[t]
			tbl.Row(t, strconv.Itoa(c.total), strconv.Itoa(c.controllable))
		}
		tbl.Flush()
		return nil
	},
}
