package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, "2024-2025", cfg.Review.DefaultSchoolYear)
	assert.Equal(t, []string{"ADMIN", "SUPERADMIN"}, cfg.Review.CommentManagers)
	assert.Equal(t, 2*time.Minute, cfg.Review.StatsCacheTTL)
	assert.Equal(t, "review_document_changes", cfg.Review.FeedChannel)
	assert.Equal(t, 4000, cfg.Review.MaxCommentLength)
	assert.Equal(t, 2, cfg.Notifications.Workers)
	assert.True(t, cfg.Notifications.Enabled)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("REVIEW_STATS_CACHE_TTL", "not-a-duration")
	v.Set("REVIEW_COMMENT_MANAGER_ROLES", " ADMIN , ,VICE_PRINCIPAL ")
	v.Set("REVIEW_MAX_COMMENT_LENGTH", -1)

	cfg := fromViper(v)

	assert.Equal(t, 2*time.Minute, cfg.Review.StatsCacheTTL)
	assert.Equal(t, []string{"ADMIN", "VICE_PRINCIPAL"}, cfg.Review.CommentManagers)
	assert.Equal(t, 4000, cfg.Review.MaxCommentLength)
}
