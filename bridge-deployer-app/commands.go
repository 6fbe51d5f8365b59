package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/resource"
)

type planView struct {
	Token    string            `yaml:"token"`
	Topology string            `yaml:"topology,omitempty"`
	Error    string            `yaml:"error,omitempty"`
	Networks []networkPlanView `yaml:"networks,omitempty"`
}

type networkPlanView struct {
	Network     string           `yaml:"network"`
	Resources   []resourceView   `yaml:"resources"`
	Connections []connectionView `yaml:"connections,omitempty"`
	HookLinks   []string         `yaml:"hook_links,omitempty"`
	Roles       []string         `yaml:"roles,omitempty"`
}

type resourceView struct {
	Key      string   `yaml:"key"`
	Contract string   `yaml:"contract,omitempty"`
	Import   string   `yaml:"import,omitempty"`
	Args     []string `yaml:"args,omitempty"`
}

type connectionView struct {
	Sibling     string  `yaml:"sibling"`
	Variant     string  `yaml:"variant"`
	SiblingSlug uint32  `yaml:"sibling_slug"`
	Switchboard string  `yaml:"switchboard"`
	Sending     string  `yaml:"sending,omitempty"`
	Receiving   string  `yaml:"receiving,omitempty"`
	PoolID      *uint64 `yaml:"pool_id,omitempty"`
}

func newPlanView(p *plan.Plan) planView {
	view := planView{Token: string(p.Token), Topology: string(p.Topology)}
	for _, n := range p.Networks {
		nv := networkPlanView{Network: string(n)}
		for _, step := range p.Resources[n] {
			rv := resourceView{Key: step.Key.String()}
			if step.Import != nil {
				rv.Import = step.Import.Hex()
			} else {
				rv.Contract = step.Contract
				for _, arg := range step.Args {
					rv.Args = append(rv.Args, arg.String())
				}
			}
			nv.Resources = append(nv.Resources, rv)
		}
		for _, c := range p.ConnectionsFrom(n) {
			cv := connectionView{
				Sibling:     string(c.Key.Sibling),
				Variant:     string(c.Key.Variant),
				SiblingSlug: c.SiblingSlug,
				Switchboard: c.Switchboard.Hex(),
				PoolID:      c.PoolID,
			}
			if c.Limits.Sending != nil {
				cv.Sending = c.Limits.Sending.String()
			}
			if c.Limits.Receiving != nil {
				cv.Receiving = c.Limits.Receiving.String()
			}
			nv.Connections = append(nv.Connections, cv)
		}
		for _, l := range p.HookLinksOn(n) {
			nv.HookLinks = append(nv.HookLinks, fmt.Sprintf("%s -> %s", l.Target, l.Hook))
		}
		for _, r := range p.RolesOn(n) {
			verb := "revoke"
			if r.Grant {
				verb = "grant"
			}
			nv.Roles = append(nv.Roles, fmt.Sprintf("%s %s %s on %s", verb, r.Role, r.Account, r.Target))
		}
		view.Networks = append(view.Networks, nv)
	}
	return view
}

// writePlans resolves every token and writes the plans as YAML documents.
// Tokens that fail to resolve are written with their error and counted.
func writePlans(w io.Writer, tokens []plan.TokenConfig, registry plan.Registry) (int, error) {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()

	failed := 0
	for _, t := range tokens {
		var view planView
		p, err := plan.Resolve(t, registry)
		if err != nil {
			failed++
			view = planView{Token: string(t.ID), Error: err.Error()}
		} else {
			view = newPlanView(p)
		}
		if err := enc.Encode(view); err != nil {
			return failed, fmt.Errorf("encode plan of %s: %w", t.ID, err)
		}
	}
	return failed, nil
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd, os.Stderr)
	if err != nil {
		return err
	}
	selected, _ := cmd.Flags().GetStringSlice("token")
	tokens, err := cfg.TokenConfigs(selected)
	if err != nil {
		return err
	}

	failed, err := writePlans(os.Stdout, tokens, cfg.Registry())
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d token(s) could not be resolved", failed)
	}
	return nil
}

type addressView struct {
	Network  string `yaml:"network"           json:"network"`
	Token    string `yaml:"token"             json:"token"`
	Role     string `yaml:"role"              json:"role"`
	Sibling  string `yaml:"sibling,omitempty" json:"sibling,omitempty"`
	Variant  string `yaml:"variant,omitempty" json:"variant,omitempty"`
	Address  string `yaml:"address"           json:"address"`
	Imported bool   `yaml:"imported,omitempty" json:"imported,omitempty"`
}

// writeAddresses exports records, optionally limited to some tokens.
func writeAddresses(w io.Writer, records []resource.Record, format string, tokens []string) error {
	keep := make(map[resource.TokenID]bool, len(tokens))
	for _, t := range tokens {
		keep[resource.TokenID(t)] = true
	}

	views := make([]addressView, 0, len(records))
	for _, rec := range records {
		if len(keep) > 0 && !keep[rec.Key.Token] {
			continue
		}
		views = append(views, addressView{
			Network:  string(rec.Key.Network),
			Token:    string(rec.Key.Token),
			Role:     string(rec.Key.Role),
			Sibling:  string(rec.Key.Sibling),
			Variant:  string(rec.Key.Variant),
			Address:  rec.Address.Hex(),
			Imported: rec.Imported,
		})
	}

	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	default:
		return fmt.Errorf("unknown format %q (yaml, json)", format)
	}
}

func runAddresses(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd, os.Stderr)
	if err != nil {
		return err
	}
	store, err := addrstore.Open(cmd.Context(), cfg.StoreConfig(logger.Logger))
	if err != nil {
		return fmt.Errorf("failed to open address store: %w", err)
	}
	defer store.Close()

	records, err := store.Records(cmd.Context())
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	tokens, _ := cmd.Flags().GetStringSlice("token")
	return writeAddresses(os.Stdout, records, format, tokens)
}
