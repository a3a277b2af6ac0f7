package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aiorg/internal/bootstrap"
	"github.com/nextlevelbuilder/aiorg/internal/config"
	"github.com/nextlevelbuilder/aiorg/internal/org"
	"github.com/nextlevelbuilder/aiorg/internal/store"
)

func orgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Organization management",
	}
	cmd.AddCommand(orgInitCmd())
	cmd.AddCommand(orgListCmd())
	return cmd
}

// orgInitCmd walks through building a first org interactively and stores it
// directly, ready for `aiorg serve`.
func orgInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a starter org interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			stores, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}

			var (
				name       = "Research Org"
				ownerEmail string
				rootRole   = "Chief Executive"
				reviewMode = "auto"
			)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Organization name").
						Value(&name).
						Validate(func(s string) error {
							if strings.TrimSpace(s) == "" {
								return fmt.Errorf("name is required")
							}
							return nil
						}),
					huh.NewInput().
						Title("Root role name").
						Value(&rootRole),
					huh.NewInput().
						Title("Your email (HITL reviews and notifications, blank to skip)").
						Value(&ownerEmail),
					huh.NewSelect[string]().
						Title("Review mode for the root node").
						Options(
							huh.NewOption("No human review", "off"),
							huh.NewOption("Review, auto-proceed on timeout", "auto"),
							huh.NewOption("Review, block until decided", "strict"),
						).
						Value(&reviewMode),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			tpl := bootstrap.DefaultTemplate(ownerEmail)
			tpl.Name = name
			tpl.Root.RoleName = rootRole
			switch reviewMode {
			case "off":
				tpl.Root.HITL = store.HITLConfig{}
			case "auto":
				tpl.Root.HITL = store.HITLConfig{Enabled: ownerEmail != "", TimeoutHours: 24, AutoProceed: true}
			case "strict":
				tpl.Root.HITL = store.HITLConfig{Enabled: ownerEmail != "", TimeoutHours: 24}
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			svc := org.NewService(stores, logger)
			created, err := bootstrap.SeedOrg(context.Background(), stores, svc, tpl, logger)
			if err != nil {
				return err
			}

			fmt.Printf("\nOrg %q is ready (id %s).\n", created.Name, created.ID)
			fmt.Println("Start the orchestrator with:  aiorg serve")
			return nil
		},
	}
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			stores, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			orgs, err := stores.Orgs.ListOrgs(context.Background())
			if err != nil {
				return err
			}
			if len(orgs) == 0 {
				fmt.Println("no orgs yet — run `aiorg org init`")
				return nil
			}
			for _, o := range orgs {
				fmt.Printf("%s  %-24s %s\n", o.ID, o.Name, o.Status)
			}
			return nil
		},
	}
}
