package commands

import (
	"context"
	"fmt"

	"hippo/pkg/collection"

	"github.com/spf13/cobra"
)

var collectionCmd = &cobra.Command{
	Use:     "collection",
	Aliases: []string{"coll"},
	Short:   "Manage collections",
}

var (
	collDescription string
	collReaders     []string
	collWriters     []string
)

var collectionCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		c, err := Hippo.Collections.Create(context.Background(), currentCaller(), collection.CreateRequest{
			Name:        args[0],
			Description: collDescription,
			Readers:     collReaders,
			Writers:     collWriters,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Created collection %s (%s)\n", c.Name, c.ID)
		return nil
	},
}

var collectionShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a collection, its products and nesting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		c, err := Hippo.Collections.Read(context.Background(), currentCaller(), args[0])
		if err != nil {
			return err
		}
		printCollection(cmd.OutOrStdout(), c)
		return nil
	},
}

var collectionSearchCmd = &cobra.Command{
	Use:   "search TEXT",
	Short: "Search collections by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		found, err := Hippo.Collections.SearchByName(context.Background(), currentCaller(), args[0])
		if err != nil {
			return err
		}
		for _, c := range found {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", c.ID, c.Name)
		}
		return nil
	},
}

var collectionUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Change description, owner, readers or writers of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		req := collection.UpdateRequest{
			Owner:         updOwner,
			AddReaders:    updAddReaders,
			RemoveReaders: updRemoveReaders,
			AddWriters:    updAddWriters,
			RemoveWriters: updRemoveWriters,
		}
		if cmd.Flags().Changed("description") {
			req.Description = &collDescription
		}
		c, err := Hippo.Collections.Update(context.Background(), currentCaller(), args[0], req)
		if err != nil {
			return err
		}
		printCollection(cmd.OutOrStdout(), c)
		return nil
	},
}

var collectionNestCmd = &cobra.Command{
	Use:   "nest PARENT_ID CHILD_ID",
	Short: "Nest one collection inside another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		return Hippo.Collections.AddChild(context.Background(), currentCaller(), args[0], args[1])
	},
}

var collectionUnnestCmd = &cobra.Command{
	Use:   "unnest PARENT_ID CHILD_ID",
	Short: "Remove a nested collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		return Hippo.Collections.RemoveChild(context.Background(), currentCaller(), args[0], args[1])
	},
}

var collectionDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a collection; its products are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireApp(); err != nil {
			return err
		}
		if err := Hippo.Collections.Delete(context.Background(), currentCaller(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Deleted collection %s\n", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{collectionCreateCmd, collectionUpdateCmd} {
		c.Flags().StringVarP(&collDescription, "description", "d", "", "collection description")
	}
	collectionCreateCmd.Flags().StringSliceVar(&collReaders, "reader", nil, "reader groups")
	collectionCreateCmd.Flags().StringSliceVar(&collWriters, "writer", nil, "writer groups")

	u := collectionUpdateCmd.Flags()
	u.StringVar(&updOwner, "owner", "", "new owner")
	u.StringSliceVar(&updAddReaders, "add-reader", nil, "groups to add to readers")
	u.StringSliceVar(&updRemoveReaders, "remove-reader", nil, "groups to remove from readers")
	u.StringSliceVar(&updAddWriters, "add-writer", nil, "groups to add to writers")
	u.StringSliceVar(&updRemoveWriters, "remove-writer", nil, "groups to remove from writers")

	collectionCmd.AddCommand(
		collectionCreateCmd, collectionShowCmd, collectionSearchCmd, collectionUpdateCmd,
		collectionNestCmd, collectionUnnestCmd, collectionDeleteCmd,
	)
	rootCmd.AddCommand(collectionCmd)
}
