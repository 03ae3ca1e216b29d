package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/config"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var username, email, password string
	var admin bool

	c := &cobra.Command{
		Use:   "add",
		Short: "Add a user (the only way to create admins)",
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

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}

			user := &booking.User{
				ID:           booking.UserID(uuid.NewString()),
				Username:     username,
				Email:        email,
				PasswordHash: string(hash),
				Admin:        admin,
				CreatedAt:    time.Now().UTC(),
			}
			if err := store.CreateUser(cmd.Context(), user); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created user %q (%s)\n", username, user.ID)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&email, "email", "", "email address")
	c.Flags().StringVar(&password, "password", "", "password")
	c.Flags().BoolVar(&admin, "admin", false, "grant admin rights")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}
