// Command seed populates the database with a demo workspace.
package main

import (
	"flag"
	"log"

	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/seed"
)

func main() {
	tenantName := flag.String("tenant", "Acme", "Workspace name")
	slug := flag.String("slug", "acme", "Workspace slug")
	numUsers := flag.Int("users", 25, "Number of users to create")
	numChannels := flag.Int("channels", 5, "Number of group channels to create")
	numMessages := flag.Int("messages", 500, "Number of messages to create")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Printf("Seeding workspace %q (%s): %d users, %d channels, %d messages, clean=%v",
		*tenantName, *slug, *numUsers, *numChannels, *numMessages, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	s := seed.NewSeeder(db)

	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	if _, err := s.Workspace(seed.Options{
		TenantName:  *tenantName,
		Slug:        *slug,
		NumUsers:    *numUsers,
		NumChannels: *numChannels,
		NumMessages: *numMessages,
	}); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Done. Every seeded account uses the password %q.", seed.DefaultPassword)
}
