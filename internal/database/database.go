// Package database persists users and their preferences.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lildude/strava-weather/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrUserNotFound = errors.New("user not found")

// Open connects to Postgres and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.UserPreference{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Store wraps the queries the service makes.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindUserByID loads the fields enrichment needs: tokens, the weather flag
// and preferences.
func (s *Store) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).
		Select("id", "strava_athlete_id", "access_token", "refresh_token", "token_expires_at", "weather_enabled").
		Preload("Preference").
		Where("id = ?", id).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding user %s: %w", id, err)
	}
	return &u, nil
}

// FindUserByAthleteID loads a user by their Strava athlete id.
func (s *Store) FindUserByAthleteID(ctx context.Context, athleteID int64) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("strava_athlete_id = ?", athleteID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding athlete %d: %w", athleteID, err)
	}
	return &u, nil
}

// UpsertUser creates the user for u.StravaAthleteID or refreshes the
// existing one's tokens and profile. New users have weather enabled; an
// existing user's choice is kept. u is updated with the stored row.
func (s *Store) UpsertUser(ctx context.Context, u *model.User) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.User
		err := tx.Where("strava_athlete_id = ?", u.StravaAthleteID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			u.WeatherEnabled = true
			if err := tx.Create(u).Error; err != nil {
				return fmt.Errorf("creating user: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("finding athlete %d: %w", u.StravaAthleteID, err)
		}

		err = tx.Model(&existing).Updates(map[string]any{
			"access_token":      u.AccessToken,
			"refresh_token":     u.RefreshToken,
			"token_expires_at":  u.TokenExpiresAt,
			"first_name":        u.FirstName,
			"last_name":         u.LastName,
			"profile_image_url": u.ProfileImageURL,
			"city":              u.City,
			"state":             u.State,
			"country":           u.Country,
			"last_login_at":     u.LastLoginAt,
		}).Error
		if err != nil {
			return fmt.Errorf("updating user %s: %w", existing.ID, err)
		}
		if err := tx.Where("id = ?", existing.ID).First(u).Error; err != nil {
			return fmt.Errorf("reloading user %s: %w", existing.ID, err)
		}
		return nil
	})
}

// UpdateTokens stores a refreshed token pair, but only if the stored refresh
// token is still prevRefresh. It reports false when another refresh got
// there first, in which case nothing is written.
func (s *Store) UpdateTokens(ctx context.Context, userID, prevRefresh, access, refresh string, expiresAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND refresh_token = ?", userID, prevRefresh).
		Updates(map[string]any{
			"access_token":     access,
			"refresh_token":    refresh,
			"token_expires_at": expiresAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("updating tokens for %s: %w", userID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SetWeatherEnabled turns enrichment on or off for a user.
func (s *Store) SetWeatherEnabled(ctx context.Context, userID string, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", userID).Update("weather_enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("updating user %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user and their preferences.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.UserPreference{}).Error; err != nil {
			return fmt.Errorf("deleting preferences for %s: %w", userID, err)
		}
		res := tx.Where("id = ?", userID).Delete(&model.User{})
		if res.Error != nil {
			return fmt.Errorf("deleting user %s: %w", userID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// DeleteUserByAthleteID removes the user for a Strava athlete, if any.
func (s *Store) DeleteUserByAthleteID(ctx context.Context, athleteID int64) error {
	u, err := s.FindUserByAthleteID(ctx, athleteID)
	if err != nil {
		return err
	}
	return s.DeleteUser(ctx, u.ID)
}

// UpsertPreference creates or replaces the user's preferences.
func (s *Store) UpsertPreference(ctx context.Context, p *model.UserPreference) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"temperature_unit", "weather_format", "include_uv_index", "include_visibility", "custom_format", "updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("saving preferences for %s: %w", p.UserID, err)
	}
	return nil
}
