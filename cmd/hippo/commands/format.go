package commands

import (
	"fmt"
	"io"
	"strings"

	"hippo/pkg/meta"
	"hippo/pkg/product"

	"github.com/dustin/go-humanize"
)

const (
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

func printProduct(w io.Writer, p *meta.Product) {
	marker := ""
	if p.Current {
		marker = " (current)"
	}
	fmt.Fprintf(w, "%sproduct %s%s%s\n", colorYellow, p.ID, marker, colorReset)
	fmt.Fprintf(w, "Name:     %s\n", p.Name)
	fmt.Fprintf(w, "Version:  %s\n", p.Version)
	fmt.Fprintf(w, "Type:     %s\n", p.MetadataType)
	fmt.Fprintf(w, "Owner:    %s\n", p.Owner)
	fmt.Fprintf(w, "Readers:  %s\n", strings.Join(p.Readers, ", "))
	fmt.Fprintf(w, "Writers:  %s\n", strings.Join(p.Writers, ", "))
	fmt.Fprintf(w, "Updated:  %s\n", humanize.Time(p.Updated))
	if p.Description != "" {
		fmt.Fprintf(w, "\n    %s\n", p.Description)
	}
	for _, l := range p.Collections {
		fmt.Fprintf(w, "In collection %s (%s)\n", l.CollectionID, l.Policy)
	}
	fmt.Fprintln(w)
}

func printFiles(w io.Writer, files []product.FileView) {
	for _, f := range files {
		state := "available"
		if !f.Available {
			state = "pending"
		}
		fmt.Fprintf(w, "  %-12s %-30s %10s  %s  %s\n", f.Slug, f.Name, humanize.IBytes(uint64(f.Size)), f.Checksum, state)
	}
}

func printProductLine(w io.Writer, p *meta.Product) {
	fmt.Fprintf(w, "%s  %-30s %-8s %s\n", p.ID, p.Name, p.Version, humanize.Time(p.Updated))
}

func printCollection(w io.Writer, c *meta.Collection) {
	fmt.Fprintf(w, "%scollection %s%s\n", colorYellow, c.ID, colorReset)
	fmt.Fprintf(w, "Name:     %s\n", c.Name)
	fmt.Fprintf(w, "Owner:    %s\n", c.Owner)
	fmt.Fprintf(w, "Readers:  %s\n", strings.Join(c.Readers, ", "))
	fmt.Fprintf(w, "Writers:  %s\n", strings.Join(c.Writers, ", "))
	if c.Description != "" {
		fmt.Fprintf(w, "\n    %s\n", c.Description)
	}
	for _, id := range c.ParentIDs {
		fmt.Fprintf(w, "Parent:   %s\n", id)
	}
	for _, id := range c.ChildIDs {
		fmt.Fprintf(w, "Child:    %s\n", id)
	}
	for _, p := range c.Products {
		fmt.Fprint(w, "  ")
		printProductLine(w, p)
	}
	fmt.Fprintln(w)
}
