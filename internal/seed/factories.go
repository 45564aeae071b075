package seed

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"huddle/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Factory builds domain entities and persists them. It is a thin helper used
// by the seeder and by tests that want realistic rows without fixtures.
type Factory struct {
	db  *gorm.DB
	rng *rand.Rand
}

// NewFactory creates a Factory bound to the given database.
func NewFactory(db *gorm.DB) *Factory {
	gofakeit.Seed(time.Now().UnixNano())
	return &Factory{db: db, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Tenant persists a workspace.
func (f *Factory) Tenant(name, slug string) (*models.Tenant, error) {
	if name == "" {
		name = gofakeit.Company()
	}
	if slug == "" {
		slug = slugify(name)
	}
	tenant := &models.Tenant{Name: name, Slug: slug}
	if err := f.db.Create(tenant).Error; err != nil {
		return nil, err
	}
	return tenant, nil
}

// User persists a member of the given tenant. Overrides run before the insert.
func (f *Factory) User(tenant *models.Tenant, overrides ...func(*models.User)) (*models.User, error) {
	name := gofakeit.Name()
	user := &models.User{
		TenantID:     tenant.ID,
		DisplayName:  name,
		Email:        fmt.Sprintf("%s@%s.test", slugify(name), tenant.Slug),
		Password:     hashedDefaultPassword,
		Role:         models.RoleMember,
		IsActive:     true,
		OnlineStatus: models.StatusOffline,
	}
	for _, override := range overrides {
		override(user)
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// Channel persists a named group conversation with the given members. The
// creator becomes the conversation admin.
func (f *Factory) Channel(tenant *models.Tenant, creator *models.User, name string, members []*models.User) (*models.Conversation, error) {
	conv := &models.Conversation{
		TenantID:  tenant.ID,
		Name:      name,
		IsGroup:   true,
		CreatedBy: creator.ID,
	}
	if err := f.db.Create(conv).Error; err != nil {
		return nil, err
	}

	for _, member := range members {
		role := models.RoleMember
		if member.ID == creator.ID {
			role = models.RoleAdmin
		}
		participant := &models.ConversationParticipant{
			ConversationID: conv.ID,
			UserID:         member.ID,
			Role:           role,
		}
		if err := f.db.Create(participant).Error; err != nil {
			return nil, err
		}
		conv.Participants = append(conv.Participants, *member)
	}
	return conv, nil
}

// DirectConversation persists a two-person conversation.
func (f *Factory) DirectConversation(tenant *models.Tenant, a, b *models.User) (*models.Conversation, error) {
	conv := &models.Conversation{
		TenantID:  tenant.ID,
		IsGroup:   false,
		CreatedBy: a.ID,
	}
	if err := f.db.Create(conv).Error; err != nil {
		return nil, err
	}

	for _, member := range []*models.User{a, b} {
		participant := &models.ConversationParticipant{
			ConversationID: conv.ID,
			UserID:         member.ID,
			Role:           models.RoleMember,
		}
		if err := f.db.Create(participant).Error; err != nil {
			return nil, err
		}
		conv.Participants = append(conv.Participants, *member)
	}
	return conv, nil
}

// Message persists a message with a created-at spread over the last 30 days.
func (f *Factory) Message(conv *models.Conversation, senderID uint, overrides ...func(*models.Message)) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        gofakeit.Sentence(4 + f.rng.Intn(12)),
		MessageType:    "text",
		CreatedAt:      f.pastTimestamp(30),
	}
	for _, override := range overrides {
		override(msg)
	}
	if err := f.db.Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

var seedEmojis = []string{"👍", "🎉", "😂", "❤️", "👀", "🚀"}

// Reaction persists a reaction to the message by the given user.
func (f *Factory) Reaction(msg *models.Message, userID uint) error {
	reaction := &models.MessageReaction{
		MessageID: msg.ID,
		UserID:    userID,
		Emoji:     seedEmojis[f.rng.Intn(len(seedEmojis))],
	}
	return f.db.Create(reaction).Error
}

// ReadReceipt persists a read receipt for the message by the given user.
func (f *Factory) ReadReceipt(msg *models.Message, userID uint) error {
	receipt := &models.MessageRead{
		MessageID: msg.ID,
		UserID:    userID,
	}
	return f.db.Create(receipt).Error
}

func (f *Factory) pastTimestamp(maxDays int) time.Time {
	back := time.Duration(f.rng.Intn(maxDays*24*60)) * time.Minute
	return time.Now().Add(-back)
}

func slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	pendingDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	return b.String()
}
