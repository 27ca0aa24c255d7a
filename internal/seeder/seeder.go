package seeder

import (
	"context"
	"log"

	"github.com/danghm/botledger/internal/settings"
	"github.com/danghm/botledger/internal/usage"
)

const (
	TestUserID   = int64(100000001)
	TestUserName = "botledger-demo"
)

// SeedTestUser creates a demo user with default settings so the API can
// be exercised against a fresh database.
func SeedTestUser(ctx context.Context, tracker *usage.Tracker, svc *settings.Service) {
	if err := tracker.EnsureUser(ctx, TestUserID, TestUserName); err != nil {
		log.Printf("[Seeder] failed to create test user: %v", err)
		return
	}
	if err := svc.SetModel(ctx, TestUserID, settings.DefaultModel); err != nil {
		log.Printf("[Seeder] settings may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Test user created successfully")
	log.Printf("[Seeder] UserID: %d", TestUserID)
	log.Printf("[Seeder] UserName: %s", TestUserName)
}
