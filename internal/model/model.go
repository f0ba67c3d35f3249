package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents an athlete who has connected their Strava account.
// AccessToken and RefreshToken hold vault ciphertext, never plaintext.
type User struct {
	ID              string `gorm:"type:varchar(36);primaryKey"`
	StravaAthleteID int64  `gorm:"uniqueIndex;not null"`
	AccessToken     string `gorm:"type:text;not null"`
	RefreshToken    string `gorm:"type:text;not null"`
	TokenExpiresAt  time.Time
	WeatherEnabled  bool
	FirstName       string
	LastName        string
	ProfileImageURL string
	City            string
	State           string
	Country         string
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Preference *UserPreference `gorm:"constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns the opaque primary key.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// UserPreference represents how a user wants weather rendered.
type UserPreference struct {
	ID                uint   `gorm:"primaryKey"`
	UserID            string `gorm:"type:varchar(36);uniqueIndex;not null"`
	TemperatureUnit   string `gorm:"default:celsius"`
	WeatherFormat     string `gorm:"default:compact"`
	IncludeUVIndex    bool
	IncludeVisibility bool
	CustomFormat      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
