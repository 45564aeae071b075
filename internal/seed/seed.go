// Package seed populates the database with demo workspaces for development
// and load testing. Never run it against production data.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"huddle/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// DefaultPassword is the password every seeded account gets.
const DefaultPassword = "password123"

var channelNames = []string{
	"general", "random", "engineering", "design", "support",
	"announcements", "watercooler", "incidents", "releases", "hiring",
}

// Options configures a seeding run.
type Options struct {
	TenantName  string
	Slug        string
	NumUsers    int
	NumChannels int
	NumMessages int
	ShouldClean bool
}

// Seeder creates demo data through a Factory.
type Seeder struct {
	db      *gorm.DB
	factory *Factory
	rng     *rand.Rand
}

// NewSeeder creates a Seeder bound to the given database.
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{
		db:      db,
		factory: NewFactory(db),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ClearAll removes every chat and identity row. Table order matters because
// of foreign keys.
func (s *Seeder) ClearAll() error {
	tables := []interface{}{
		&models.MessageReaction{},
		&models.MessageRead{},
		&models.Message{},
		&models.ConversationParticipant{},
		&models.Conversation{},
		&models.User{},
		&models.Tenant{},
	}
	for _, table := range tables {
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(table).Error; err != nil {
			return fmt.Errorf("clear table %T: %w", table, err)
		}
	}
	return nil
}

// Workspace seeds one complete tenant: an admin, members, group channels,
// a few direct conversations and a message history with reactions and read
// receipts. It returns the created tenant.
func (s *Seeder) Workspace(opts Options) (*models.Tenant, error) {
	if opts.NumUsers < 2 {
		opts.NumUsers = 2
	}
	if opts.NumChannels <= 0 {
		opts.NumChannels = 3
	}
	if opts.NumChannels > len(channelNames) {
		opts.NumChannels = len(channelNames)
	}

	tenant, err := s.factory.Tenant(opts.TenantName, opts.Slug)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	log.Printf("seed: tenant %q (%s)", tenant.Name, tenant.Slug)

	users, err := s.seedUsers(tenant, opts.NumUsers)
	if err != nil {
		return nil, err
	}
	log.Printf("seed: %d users created", len(users))

	channels, err := s.seedChannels(tenant, users, opts.NumChannels)
	if err != nil {
		return nil, err
	}

	dms, err := s.seedDirectConversations(tenant, users)
	if err != nil {
		return nil, err
	}
	log.Printf("seed: %d channels, %d direct conversations", len(channels), len(dms))

	conversations := append(channels, dms...)
	if err := s.seedHistory(conversations, opts.NumMessages); err != nil {
		return nil, err
	}
	log.Printf("seed: message history written")

	return tenant, nil
}

func (s *Seeder) seedUsers(tenant *models.Tenant, n int) ([]*models.User, error) {
	users := make([]*models.User, 0, n)

	admin, err := s.factory.User(tenant, func(u *models.User) {
		u.DisplayName = "Admin"
		u.Email = fmt.Sprintf("admin@%s.test", tenant.Slug)
		u.Role = models.RoleAdmin
	})
	if err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	users = append(users, admin)

	for i := 1; i < n; i++ {
		user, err := s.factory.User(tenant)
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		users = append(users, user)
	}
	return users, nil
}

func (s *Seeder) seedChannels(tenant *models.Tenant, users []*models.User, n int) ([]*models.Conversation, error) {
	channels := make([]*models.Conversation, 0, n)
	admin := users[0]

	for i := 0; i < n; i++ {
		// Everyone joins the first channel; later channels get a random
		// subset so membership checks have something to reject.
		members := users
		if i > 0 {
			members = s.sample(users, 2+s.rng.Intn(len(users)-1))
		}

		conv, err := s.factory.Channel(tenant, admin, channelNames[i], members)
		if err != nil {
			return nil, fmt.Errorf("create channel %q: %w", channelNames[i], err)
		}
		channels = append(channels, conv)
	}
	return channels, nil
}

func (s *Seeder) seedDirectConversations(tenant *models.Tenant, users []*models.User) ([]*models.Conversation, error) {
	// A handful of random pairs.
	n := len(users) / 2
	if n == 0 {
		return nil, nil
	}

	dms := make([]*models.Conversation, 0, n)
	for i := 0; i < n; i++ {
		a := users[s.rng.Intn(len(users))]
		b := users[s.rng.Intn(len(users))]
		if a.ID == b.ID {
			continue
		}
		conv, err := s.factory.DirectConversation(tenant, a, b)
		if err != nil {
			return nil, fmt.Errorf("create dm: %w", err)
		}
		dms = append(dms, conv)
	}
	return dms, nil
}

func (s *Seeder) seedHistory(conversations []*models.Conversation, total int) error {
	if total <= 0 {
		total = 20 * len(conversations)
	}

	for i := 0; i < total; i++ {
		conv := conversations[s.rng.Intn(len(conversations))]
		if len(conv.Participants) == 0 {
			continue
		}
		sender := conv.Participants[s.rng.Intn(len(conv.Participants))]

		msg, err := s.factory.Message(conv, sender.ID)
		if err != nil {
			return fmt.Errorf("create message: %w", err)
		}

		// A third of messages pick up a reaction; half get read by someone.
		if s.rng.Intn(3) == 0 {
			reader := conv.Participants[s.rng.Intn(len(conv.Participants))]
			if reader.ID != sender.ID {
				if err := s.factory.Reaction(msg, reader.ID); err != nil {
					return fmt.Errorf("create reaction: %w", err)
				}
			}
		}
		if s.rng.Intn(2) == 0 {
			reader := conv.Participants[s.rng.Intn(len(conv.Participants))]
			if reader.ID != sender.ID {
				if err := s.factory.ReadReceipt(msg, reader.ID); err != nil {
					return fmt.Errorf("create read receipt: %w", err)
				}
			}
		}
	}
	return nil
}

// sample returns up to n distinct users, always including the first (admin).
func (s *Seeder) sample(users []*models.User, n int) []*models.User {
	if n >= len(users) {
		return users
	}
	picked := map[uint]bool{users[0].ID: true}
	out := []*models.User{users[0]}
	for len(out) < n {
		u := users[s.rng.Intn(len(users))]
		if picked[u.ID] {
			continue
		}
		picked[u.ID] = true
		out = append(out, u)
	}
	return out
}

// hashedDefaultPassword is computed once; bcrypt per seeded user would
// dominate the run time.
var hashedDefaultPassword = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}()
