package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/smartrecall/internal/app"
	"github.com/ashureev/smartrecall/internal/shop"
)

func (c *cli) newCartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Inspect and change a session's cart",
	}
	cmd.AddCommand(c.newCartViewCmd(), c.newCartAddCmd(), c.newCartClearCmd())
	return cmd
}

func (c *cli) newCartViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <session-id>",
		Short: "Show the cart with totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				view, err := a.Cart.View(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.print(cmd, view, formatCart(view))
			})
		},
	}
}

func formatCart(view *shop.CartView) string {
	if len(view.Items) == 0 {
		return "cart is empty"
	}
	var b strings.Builder
	for _, it := range view.Items {
		name := it.ProductID
		if it.Product != nil {
			name = it.Product.Name
		}
		fmt.Fprintf(&b, "%dx %s (ID: %s) %.2f\n", it.Quantity, name, it.ProductID, it.LineTotal())
	}
	fmt.Fprintf(&b, "items: %d total: %.2f", view.Summary.TotalItems, view.Summary.TotalPrice)
	return b.String()
}

func (c *cli) newCartAddCmd() *cobra.Command {
	var qty int
	cmd := &cobra.Command{
		Use:   "add <session-id> <product-id>...",
		Short: "Add products to the cart",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args[1:]
			qtys := make([]int, len(ids))
			for i := range qtys {
				qtys[i] = qty
			}
			return c.withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.Cart.AddItems(cmd.Context(), args[0], ids, qtys)
				if err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("nothing added: %s", res.Error)
				}
				text := fmt.Sprintf("added %d product(s)", len(res.AddedItems))
				if len(res.Failed) > 0 {
					text += fmt.Sprintf("; skipped %s", strings.Join(res.Failed, ", "))
				}
				return c.print(cmd, res, text)
			})
		},
	}
	cmd.Flags().IntVar(&qty, "qty", 1, "quantity per product")
	return cmd
}

func (c *cli) newCartClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Remove every item from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Cart.Clear(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.print(cmd, map[string]int64{"removedItems": n}, fmt.Sprintf("removed %d item(s)", n))
			})
		},
	}
}
