package commands

import (
	"context"
	"errors"
	"fmt"

	"hippo/pkg/meta"
	"hippo/pkg/metadata"
	"hippo/pkg/product"
	"hippo/pkg/types"
	"hippo/pkg/upload"
	"hippo/pkg/versioning"

	"github.com/spf13/cobra"
)

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Create, revise and inspect products",
}

// -----------------------------------------------------------------------------
// create
// -----------------------------------------------------------------------------

var (
	createDescription string
	createType        string
	createFiles       []string
	createReaders     []string
	createWriters     []string
)

var productCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a product at version 1.0.0 and upload its sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		ctx := context.Background()

		md, err := metadata.New(createType)
		if err != nil {
			return err
		}
		src, err := parseSources(createFiles)
		if err != nil {
			return err
		}

		p, presigned, err := Hippo.Products.Create(ctx, currentCaller(), product.CreateRequest{
			Name:        args[0],
			Description: createDescription,
			Metadata:    md,
			Sources:     src.specs,
			Readers:     createReaders,
			Writers:     createWriters,
		})
		if err != nil {
			return err
		}
		if err := uploadAll(ctx, cmd.OutOrStdout(), p.ID, src, presigned); err != nil {
			return fmt.Errorf("product %s created but upload failed: %w", p.ID, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✅ Created %s %s (%s)\n", p.Name, p.Version, p.ID)
		return nil
	},
}

// -----------------------------------------------------------------------------
// show / history / search / recent
// -----------------------------------------------------------------------------

var showVersion string

var productShowCmd = &cobra.Command{
	Use:   "show ID|NAME",
	Short: "Show a product and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		ctx := context.Background()

		p, err := resolveProduct(ctx, args[0], showVersion)
		if err != nil {
			return err
		}
		files, err := Hippo.Products.ReadFiles(ctx, currentCaller(), p.ID)
		if err != nil {
			return err
		}
		printProduct(cmd.OutOrStdout(), p)
		printFiles(cmd.OutOrStdout(), files)
		return nil
	},
}

var productHistoryCmd = &cobra.Command{
	Use:   "history ID|NAME",
	Short: "Show every version of a product, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		ctx := context.Background()

		p, err := resolveProduct(ctx, args[0], "")
		if err != nil {
			return err
		}
		// 1. 先走到 head，历史从那里往回走才完整
		head, err := Hippo.Products.WalkToCurrent(ctx, currentCaller(), p.ID)
		if err != nil {
			return err
		}
		chain, err := Hippo.Products.History(ctx, head)
		if err != nil {
			return err
		}
		for _, node := range chain {
			printProduct(cmd.OutOrStdout(), node)
		}
		return nil
	},
}

var productSearchCmd = &cobra.Command{
	Use:   "search TEXT",
	Short: "Search current products by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		found, err := Hippo.Products.SearchByName(context.Background(), currentCaller(), args[0])
		if err != nil {
			return err
		}
		for _, p := range found {
			printProductLine(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var (
	recentMax int
	recentAll bool
)

var productRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently updated products",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		found, err := Hippo.Products.ReadMostRecent(context.Background(), currentCaller(), recentMax, !recentAll)
		if err != nil {
			return err
		}
		for _, p := range found {
			printProductLine(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

// -----------------------------------------------------------------------------
// update
// -----------------------------------------------------------------------------

var (
	bumpMajor, bumpMinor, bumpPatch bool

	updName, updDescription, updOwner string
	updAddReaders, updRemoveReaders   []string
	updAddWriters, updRemoveWriters   []string
	updNew, updReplace, updDrop       []string
)

var productUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Revise a product; exactly one of --major, --minor, --patch is required",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		ctx := context.Background()

		level, err := versioning.LevelFromFlags(bumpMajor, bumpMinor, bumpPatch)
		if err != nil {
			return err
		}

		ch := product.Changes{
			AddReaders:    updAddReaders,
			RemoveReaders: updRemoveReaders,
			AddWriters:    updAddWriters,
			RemoveWriters: updRemoveWriters,
		}
		if cmd.Flags().Changed("name") {
			ch.Name = &updName
		}
		if cmd.Flags().Changed("description") {
			ch.Description = &updDescription
		}
		if cmd.Flags().Changed("owner") {
			ch.Owner = &updOwner
		}

		// 新增和替换的文件共享一个本地路径表
		src, err := parseSources(append(append([]string{}, updNew...), updReplace...))
		if err != nil {
			return err
		}
		sc := upload.SourceChanges{
			New:     src.specs[:len(updNew)],
			Replace: src.specs[len(updNew):],
			Drop:    updDrop,
		}

		next, presigned, err := Hippo.Products.Update(ctx, currentCaller(), args[0], ch, sc, level)
		if errors.Is(err, product.ErrNoChanges) {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to update")
			return nil
		}
		if err != nil {
			return err
		}
		if err := uploadAll(ctx, cmd.OutOrStdout(), next.ID, src, presigned); err != nil {
			return fmt.Errorf("revision %s created but upload failed: %w", next.ID, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is now at %s (%s)\n", next.Name, next.Version, next.ID)
		return nil
	},
}

// -----------------------------------------------------------------------------
// delete / access / relationships
// -----------------------------------------------------------------------------

var (
	deleteTree bool
	deleteData bool
)

var productDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete one version (or with --tree the whole history from the head)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		ctx := context.Background()

		var err error
		if deleteTree {
			err = Hippo.Products.DeleteTree(ctx, currentCaller(), args[0], deleteData)
		} else {
			err = Hippo.Products.DeleteOne(ctx, currentCaller(), args[0], deleteData)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Deleted %s\n", args[0])
		return nil
	},
}

var productAccessCmd = &cobra.Command{
	Use:   "access ID",
	Short: "Change owner/readers/writers of every version without a new revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		p, err := Hippo.Products.UpdateAccessControl(context.Background(), currentCaller(), args[0], product.AccessChanges{
			Owner:         updOwner,
			AddReaders:    updAddReaders,
			RemoveReaders: updRemoveReaders,
			AddWriters:    updAddWriters,
			RemoveWriters: updRemoveWriters,
		})
		if err != nil {
			return err
		}
		printProduct(cmd.OutOrStdout(), p)
		return nil
	},
}

var productChildOfCmd = &cobra.Command{
	Use:   "child-of ID PARENT_ID",
	Short: "Mark a product version as a child of another product",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		return Hippo.Products.AddRelationship(context.Background(), currentCaller(), args[0], args[1])
	},
}

var linkPolicy string

var productAddToCmd = &cobra.Command{
	Use:   "add-to COLLECTION_ID ID",
	Short: "Add a product version to a collection with a policy (all, new, current, fixed)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		policy, err := types.ParsePolicy(linkPolicy)
		if err != nil {
			return fmt.Errorf("%w: %v", product.ErrInvalidPolicy, err)
		}
		return Hippo.Products.AddToCollection(context.Background(), currentCaller(), args[1], args[0], policy)
	},
}

var productRemoveFromCmd = &cobra.Command{
	Use:   "remove-from COLLECTION_ID ID",
	Short: "Remove a product version from a collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		return Hippo.Products.RemoveFromCollection(context.Background(), currentCaller(), args[1], args[0])
	},
}

// resolveProduct 先按 id 查，找不到再按名字
func resolveProduct(ctx context.Context, ref, version string) (*meta.Product, error) {
	caller := currentCaller()
	if version == "" {
		p, err := Hippo.Products.ReadByID(ctx, caller, ref)
		if err == nil || !errors.Is(err, meta.ErrProductNotFound) {
			return p, err
		}
	}
	return Hippo.Products.ReadByName(ctx, caller, ref, version)
}

func init() {
	f := productCreateCmd.Flags()
	f.StringVarP(&createDescription, "description", "d", "", "product description")
	f.StringVar(&createType, "type", "simple", "metadata type "+fmt.Sprint(metadata.Types()))
	f.StringArrayVarP(&createFiles, "file", "f", nil, "source file as slug=path or path")
	f.StringSliceVar(&createReaders, "reader", nil, "reader groups")
	f.StringSliceVar(&createWriters, "writer", nil, "writer groups")

	productShowCmd.Flags().StringVar(&showVersion, "version", "", "version to show when looking up by name")

	productRecentCmd.Flags().IntVarP(&recentMax, "max", "n", 20, "maximum number of products")
	productRecentCmd.Flags().BoolVar(&recentAll, "all", false, "include superseded versions")

	u := productUpdateCmd.Flags()
	u.BoolVar(&bumpMajor, "major", false, "major revision")
	u.BoolVar(&bumpMinor, "minor", false, "minor revision")
	u.BoolVar(&bumpPatch, "patch", false, "patch revision")
	u.StringVar(&updName, "name", "", "new name")
	u.StringVarP(&updDescription, "description", "d", "", "new description")
	u.StringArrayVar(&updNew, "new", nil, "add a source as slug=path")
	u.StringArrayVar(&updReplace, "replace", nil, "replace a source as slug=path")
	u.StringArrayVar(&updDrop, "drop", nil, "drop a source by slug or file name")

	for _, c := range []*cobra.Command{productUpdateCmd, productAccessCmd} {
		c.Flags().StringVar(&updOwner, "owner", "", "new owner")
		c.Flags().StringSliceVar(&updAddReaders, "add-reader", nil, "groups to add to readers")
		c.Flags().StringSliceVar(&updRemoveReaders, "remove-reader", nil, "groups to remove from readers")
		c.Flags().StringSliceVar(&updAddWriters, "add-writer", nil, "groups to add to writers")
		c.Flags().StringSliceVar(&updRemoveWriters, "remove-writer", nil, "groups to remove from writers")
	}

	productDeleteCmd.Flags().BoolVar(&deleteTree, "tree", false, "delete every version (must be given the head)")
	productDeleteCmd.Flags().BoolVar(&deleteData, "data", false, "also delete the stored objects")

	productAddToCmd.Flags().StringVar(&linkPolicy, "policy", string(types.PolicyAll), "membership policy")

	productCmd.AddCommand(
		productCreateCmd, productShowCmd, productHistoryCmd, productSearchCmd, productRecentCmd,
		productUpdateCmd, productDeleteCmd, productAccessCmd, productChildOfCmd,
		productAddToCmd, productRemoveFromCmd,
	)
	rootCmd.AddCommand(productCmd)
}
