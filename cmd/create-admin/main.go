package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"greendrake/offerdesk/internal/db"
	"greendrake/offerdesk/internal/models"
	"greendrake/offerdesk/internal/services"
)

var rootCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	Long: `Create an administrator account directly in MongoDB.

Reads MONGO_URI and MONGO_DB_NAME from the environment or a .env file.`,
	RunE:         runCreateAdmin,
	SilenceUsage: true,
}

var (
	emailFlag    string
	passwordFlag string
	nameFlag     string
	cityFlag     string
	stateFlag    string
	areaFlag     string
)

func init() {
	rootCmd.Flags().StringVar(&emailFlag, "email", "", "Admin email (required)")
	rootCmd.Flags().StringVar(&passwordFlag, "password", "", "Admin password (required)")
	rootCmd.Flags().StringVar(&nameFlag, "name", "", "Display name (required)")
	rootCmd.Flags().StringVar(&cityFlag, "city", "", "City")
	rootCmd.Flags().StringVar(&stateFlag, "state", "", "State")
	rootCmd.Flags().StringVar(&areaFlag, "area", "", "Area")
	rootCmd.MarkFlagRequired("email")
	rootCmd.MarkFlagRequired("password")
	rootCmd.MarkFlagRequired("name")
}

func runCreateAdmin(cmd *cobra.Command, args []string) error {
	godotenv.Load()

	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		return errors.New("MONGO_URI is not set")
	}
	dbName := os.Getenv("MONGO_DB_NAME")
	if dbName == "" {
		dbName = "offerdesk"
	}

	client, database, err := db.ConnectDB(mongoURI, dbName)
	if err != nil {
		return err
	}
	defer db.DisconnectDB(client)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if err := db.EnsureIndexes(ctx, database); err != nil {
		return err
	}

	user, err := services.NewUserService(database).CreateAdmin(ctx, services.RegisterInput{
		Name:     nameFlag,
		Email:    emailFlag,
		Password: passwordFlag,
		Locality: models.Locality{City: cityFlag, State: stateFlag, Area: areaFlag},
	})
	if err != nil {
		if errors.Is(err, services.ErrEmailExists) {
			return fmt.Errorf("an account with email %s already exists", emailFlag)
		}
		return fmt.Errorf("failed to create admin: %w", err)
	}

	fmt.Printf("Created admin %s (%s)\n", user.Email, user.ID)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
