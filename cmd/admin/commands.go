package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-assets/pkg/simpleassets"
	"github.com/tendant/simple-assets/pkg/simpleassets/config"
)

// runtimeBuilder is replaced in tests
var runtimeBuilder = func(ctx context.Context) (*config.Runtime, error) {
	cfg, err := config.Load(config.WithEnv(""))
	if err != nil {
		return nil, err
	}
	return cfg.Build(ctx)
}

type ownerFlags struct {
	user   string
	team   string
	asUser string
	json   bool
}

func (f *ownerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "user", "", "Owner user id")
	cmd.Flags().StringVar(&f.team, "team", "", "Owner team id")
	cmd.Flags().StringVar(&f.asUser, "as", "", "Acting user id (defaults to --user; required for --team)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Output as JSON")
	cmd.MarkFlagsMutuallyExclusive("user", "team")
	cmd.MarkFlagsOneRequired("user", "team")
}

func (f *ownerFlags) owner() simpleassets.OwnerRef {
	if f.team != "" {
		return simpleassets.TeamOwner(f.team)
	}
	return simpleassets.UserOwner(f.user)
}

func (f *ownerFlags) actor() (string, error) {
	if f.asUser != "" {
		return f.asUser, nil
	}
	if f.user != "" {
		return f.user, nil
	}
	return "", fmt.Errorf("--as is required for team assets")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "admin",
		Short: "Simple Assets admin CLI",
		Long: "Administrative tool for owner assets.\n\n" +
			"Reads DATABASE_URL, STORAGE_URL, LOCK_URL and the other service\n" +
			"variables from the environment or a .env file.",
		SilenceUsage: true,
	}
	root.AddCommand(newListCmd(), newCountCmd(), newRenameCmd(), newDeleteCmd())
	return root
}

func newListCmd() *cobra.Command {
	var flags ownerFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeBuilder(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			assets, err := rt.Service.ListAssets(cmd.Context(), flags.owner())
			if err != nil {
				return err
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), assets)
			}
			printAssets(cmd.OutOrStdout(), assets)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newCountCmd() *cobra.Command {
	var flags ownerFlags
	var assetType string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count an owner's assets of one type",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := simpleassets.AssetType(assetType)
			if !t.IsValid() {
				return fmt.Errorf("unknown asset type %q", assetType)
			}
			rt, err := runtimeBuilder(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.Repository.CountByOwnerAndType(cmd.Context(), flags.owner(), t)
			if err != nil {
				return err
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"owner": flags.owner().String(), "asset_type": assetType, "count": n,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d\n", flags.owner(), assetType, n)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&assetType, "type", "", "Asset type")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newRenameCmd() *cobra.Command {
	var flags ownerFlags
	cmd := &cobra.Command{
		Use:   "rename <asset-id> <name>",
		Short: "Rename an asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid asset id: %w", err)
			}
			actor, err := flags.actor()
			if err != nil {
				return err
			}
			rt, err := runtimeBuilder(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			asset, err := rt.Service.RenameAsset(cmd.Context(), id, flags.owner(), actor, args[1])
			if err != nil {
				return err
			}
			if flags.json {
				return writeJSON(cmd.OutOrStdout(), asset)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", asset.ID, asset.Name)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var flags ownerFlags
	cmd := &cobra.Command{
		Use:   "delete <asset-id>",
		Short: "Delete an asset and its stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid asset id: %w", err)
			}
			actor, err := flags.actor()
			if err != nil {
				return err
			}
			rt, err := runtimeBuilder(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Service.DeleteAsset(cmd.Context(), id, flags.owner(), actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func printAssets(w io.Writer, assets []*simpleassets.Asset) {
	if len(assets) == 0 {
		fmt.Fprintln(w, "No assets found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNAME\tCREATED\tURL")
	for _, a := range assets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Type, a.Name, a.CreatedAt.Format(time.RFC3339), a.URL)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d\n", len(assets))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
