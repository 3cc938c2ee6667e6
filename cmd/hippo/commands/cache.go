package commands

import (
	"context"
	"fmt"

	"hippo/pkg/localcache"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Download product sources into the local cache",
}

func openCache() (*localcache.Cache, error) {
	return localcache.Open(viper.GetString("localcache.path"), log.Logger)
}

var cacheFetchCmd = &cobra.Command{
	Use:   "fetch ID|NAME",
	Short: "Download every available source of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		ctx := context.Background()

		lc, err := openCache()
		if err != nil {
			return err
		}
		defer lc.Close()

		p, err := resolveProduct(ctx, args[0], "")
		if err != nil {
			return err
		}
		files, err := Hippo.Products.ReadFiles(ctx, currentCaller(), p.ID)
		if err != nil {
			return err
		}
		for _, f := range files {
			if !f.Available {
				fmt.Fprintf(cmd.OutOrStdout(), "⏳ %s is not uploaded yet, skipped\n", f.Name)
				continue
			}
			path, err := lc.Get(ctx, f.UUID, f.Name, f.Checksum, f.Size, f.URL)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", f.Name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", f.Slug, path)
		}
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List cached sources",
	Annotations: map[string]string{skipApp: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openCache()
		if err != nil {
			return err
		}
		defer lc.Close()

		sources, err := lc.List(context.Background())
		if err != nil {
			return err
		}
		var total int64
		for _, s := range sources {
			total += s.Size
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %10s  %s\n", s.ID, humanize.IBytes(uint64(s.Size)), s.Path)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d file(s), %s in %s\n", len(sources), humanize.IBytes(uint64(total)), lc.Root())
		return nil
	},
}

var cacheRemoveCmd = &cobra.Command{
	Use:         "rm UUID...",
	Short:       "Remove sources from the local cache",
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{skipApp: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		lc, err := openCache()
		if err != nil {
			return err
		}
		defer lc.Close()

		for _, id := range args {
			if err := lc.Remove(context.Background(), id); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheFetchCmd, cacheListCmd, cacheRemoveCmd)
	rootCmd.AddCommand(cacheCmd)
}
