package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lildude/strava-weather/internal/database"
	"github.com/lildude/strava-weather/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *database.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return database.NewStore(db)
}

func testUser(t *testing.T, s *database.Store) *model.User {
	t.Helper()
	u := &model.User{StravaAthleteID: 4321, AccessToken: "enc-a", RefreshToken: "enc-r"}
	if err := s.UpsertUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return u
}

func TestSetWeather(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)
	ctx := context.Background()

	tests := []struct {
		state   string
		want    bool
		wantErr bool
	}{
		{state: "off", want: false},
		{state: "ON", want: true},
		{state: "false", want: false},
		{state: "yes", want: true},
		{state: "maybe", want: true, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.state, func(t *testing.T) {
			err := setWeather(ctx, s, u.ID, tc.state)
			if tc.wantErr != (err != nil) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			got, err := s.FindUserByID(ctx, u.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.WeatherEnabled != tc.want {
				t.Errorf("expected weather enabled %v, got %v", tc.want, got.WeatherEnabled)
			}
		})
	}

	if err := setWeather(ctx, s, "no-such-user", "on"); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSetPreferences(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)
	ctx := context.Background()

	pref := &model.UserPreference{UserID: u.ID, TemperatureUnit: "fahrenheit", WeatherFormat: "detailed", IncludeUVIndex: true}
	if err := setPreferences(ctx, s, pref); err != nil {
		t.Fatal(err)
	}

	// Running it again replaces the stored row rather than adding another.
	pref = &model.UserPreference{UserID: u.ID, TemperatureUnit: "celsius", WeatherFormat: "custom", CustomFormat: "{condition} {temperature}{unit}"}
	if err := setPreferences(ctx, s, pref); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindUserByID(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Preference == nil {
		t.Fatal("expected preferences to be stored")
	}
	if got.Preference.TemperatureUnit != "celsius" || got.Preference.WeatherFormat != "custom" {
		t.Errorf("expected celsius/custom, got %s/%s", got.Preference.TemperatureUnit, got.Preference.WeatherFormat)
	}
	if got.Preference.IncludeUVIndex {
		t.Error("expected the UV index to be switched off")
	}
	if got.Preference.CustomFormat != "{condition} {temperature}{unit}" {
		t.Errorf("expected the custom format to be stored, got %q", got.Preference.CustomFormat)
	}
}

func TestSetPreferencesRejects(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)

	tests := []struct {
		name string
		pref model.UserPreference
		want string
	}{
		{name: "unit", pref: model.UserPreference{UserID: u.ID, TemperatureUnit: "kelvin", WeatherFormat: "compact"}, want: "invalid unit"},
		{name: "format", pref: model.UserPreference{UserID: u.ID, TemperatureUnit: "celsius", WeatherFormat: "verbose"}, want: "invalid format"},
		{name: "empty custom", pref: model.UserPreference{UserID: u.ID, TemperatureUnit: "celsius", WeatherFormat: "custom", CustomFormat: " "}, want: "needs --custom"},
		{name: "unknown user", pref: model.UserPreference{UserID: "nobody", TemperatureUnit: "celsius", WeatherFormat: "compact"}, want: "user not found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := setPreferences(context.Background(), s, &tc.pref)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	got, err := s.FindUserByID(context.Background(), u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Preference != nil {
		t.Errorf("expected no preferences to be stored, got %+v", got.Preference)
	}
}
