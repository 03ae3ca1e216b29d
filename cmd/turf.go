package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/config"
)

func newTurfCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "turf",
		Short: "Manage the turf catalog",
	}
	cmd.AddCommand(newTurfAddCmd())
	cmd.AddCommand(newTurfListCmd())
	return cmd
}

func newTurfAddCmd() *cobra.Command {
	var name, location, description, price, imageURL string

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a turf",
		RunE: func(cmd *cobra.Command, args []string) error {
			pricePerHour, err := decimal.NewFromString(price)
			if err != nil || pricePerHour.IsNegative() {
				return fmt.Errorf("invalid price %q", price)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			turf := &booking.Turf{
				ID:           booking.TurfID(uuid.NewString()),
				Name:         name,
				Location:     location,
				Description:  description,
				PricePerHour: pricePerHour,
				ImageURL:     imageURL,
				CreatedAt:    time.Now().UTC(),
			}
			if err := store.SaveTurf(cmd.Context(), turf); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created turf %q (%s)\n", name, turf.ID)
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "turf name")
	c.Flags().StringVar(&location, "location", "", "location")
	c.Flags().StringVar(&description, "description", "", "description")
	c.Flags().StringVar(&price, "price", "", "price per hour")
	c.Flags().StringVar(&imageURL, "image-url", "", "image URL")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("price")
	return c
}

func newTurfListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List turfs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			turfs, err := store.ListTurfs(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLOCATION\tPRICE/HOUR")
			for _, t := range turfs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Location, t.PricePerHour)
			}
			return w.Flush()
		},
	}
}
