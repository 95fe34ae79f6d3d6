package storage

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"mediavault/internal/models"
)

func newTestStorage(t *testing.T, opts ...Option) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"), opts...)
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	return store
}

func seedAccount(t *testing.T, store *Storage, username, password, role string) models.Account {
	t.Helper()
	account, err := store.CreateAccount(CreateAccountParams{Username: username, Password: password, Role: role})
	if err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}
	return account
}

func TestCreateAccountValidation(t *testing.T) {
	store := newTestStorage(t)

	cases := []struct {
		name   string
		params CreateAccountParams
	}{
		{name: "empty username", params: CreateAccountParams{Password: "password123", Role: models.RoleAdmin}},
		{name: "short password", params: CreateAccountParams{Username: "alice", Password: "short", Role: models.RoleAdmin}},
		{name: "unknown role", params: CreateAccountParams{Username: "alice", Password: "password123", Role: "superuser"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.CreateAccount(tc.params); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCreateAccountRejectsDuplicate(t *testing.T) {
	store := newTestStorage(t)
	seedAccount(t, store, "alice", "password123", models.RoleAdmin)

	if _, err := store.CreateAccount(CreateAccountParams{Username: "alice", Password: "password456", Role: models.RoleNonAdmin}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestAuthenticateAccount(t *testing.T) {
	store := newTestStorage(t)
	seedAccount(t, store, "alice", "password123", models.RoleAdmin)

	account, err := store.AuthenticateAccount("alice", "password123")
	if err != nil {
		t.Fatalf("AuthenticateAccount returned error: %v", err)
	}
	if account.Username != "alice" || account.Role != models.RoleAdmin {
		t.Fatalf("unexpected account %+v", account)
	}
}

func TestAuthenticateAccountRejectsSameErrorForUnknownAndMismatch(t *testing.T) {
	store := newTestStorage(t)
	seedAccount(t, store, "alice", "password123", models.RoleAdmin)

	_, unknownErr := store.AuthenticateAccount("mallory", "password123")
	_, mismatchErr := store.AuthenticateAccount("alice", "wrong-password")

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", unknownErr)
	}
	if !errors.Is(mismatchErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", mismatchErr)
	}
	if unknownErr.Error() != mismatchErr.Error() {
		t.Fatalf("expected identical errors, got %q vs %q", unknownErr, mismatchErr)
	}
}

func TestSetAccountPassword(t *testing.T) {
	store := newTestStorage(t)
	seedAccount(t, store, "alice", "password123", models.RoleAdmin)

	if _, err := store.SetAccountPassword("alice", "new-password-456"); err != nil {
		t.Fatalf("SetAccountPassword returned error: %v", err)
	}
	if _, err := store.AuthenticateAccount("alice", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}
	if _, err := store.AuthenticateAccount("alice", "new-password-456"); err != nil {
		t.Fatalf("expected new password to authenticate, got %v", err)
	}
}

func TestSetAccountRole(t *testing.T) {
	store := newTestStorage(t)
	seedAccount(t, store, "alice", "password123", models.RoleNonAdmin)

	account, err := store.SetAccountRole("alice", models.RoleAdmin)
	if err != nil {
		t.Fatalf("SetAccountRole returned error: %v", err)
	}
	if account.Role != models.RoleAdmin {
		t.Fatalf("expected role admin, got %s", account.Role)
	}
	if _, err := store.SetAccountRole("alice", "superuser"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestAccountsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	first, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	if _, err := first.CreateAccount(CreateAccountParams{Username: "alice", Password: "password123", Role: models.RoleAdmin}); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}

	second, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage reopen returned error: %v", err)
	}
	if _, err := second.AuthenticateAccount("alice", "password123"); err != nil {
		t.Fatalf("expected account to survive reopen, got %v", err)
	}
}

func sampleContent(id string) models.ContentRecord {
	return models.ContentRecord{
		ContentID:  id,
		SubTitle:   "subtitles/en.vtt",
		AudioTrack: "eng-stereo",
		Dash:       models.ManifestLocation{RootFolder: "dash/" + id, Manifest: "stream.mpd"},
		HLS:        models.ManifestLocation{RootFolder: "hls/" + id, Manifest: "master.m3u8"},
		DRM:        models.DRMInfo{ResourceURL: "https://license.example.com/acquire", KeyID: "key-" + id},
		Quality:    []string{models.QualityHD, models.QualityHDR},
	}
}

func TestContentLifecycle(t *testing.T) {
	store := newTestStorage(t)

	created, err := store.CreateContent(sampleContent("movie-001"))
	if err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}
	if created.LastUpdated.IsZero() {
		t.Fatal("expected LastUpdated to be stamped")
	}

	fetched, err := store.GetContent("movie-001")
	if err != nil {
		t.Fatalf("GetContent returned error: %v", err)
	}
	if fetched.AudioTrack != "eng-stereo" {
		t.Fatalf("unexpected audio track %q", fetched.AudioTrack)
	}

	if err := store.DeleteContent("movie-001"); err != nil {
		t.Fatalf("DeleteContent returned error: %v", err)
	}
	if _, err := store.GetContent("movie-001"); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}

func TestCreateContentValidation(t *testing.T) {
	store := newTestStorage(t)

	missingID := sampleContent("movie-001")
	missingID.ContentID = ""
	if _, err := store.CreateContent(missingID); err == nil {
		t.Fatal("expected error for missing ContentID")
	}

	missingAudio := sampleContent("movie-001")
	missingAudio.AudioTrack = ""
	if _, err := store.CreateContent(missingAudio); err == nil {
		t.Fatal("expected error for missing AudioTrack")
	}

	badQuality := sampleContent("movie-001")
	badQuality.Quality = []string{"8K"}
	if _, err := store.CreateContent(badQuality); err == nil {
		t.Fatal("expected error for unsupported quality flag")
	}
}

func TestCreateContentRejectsDuplicate(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.CreateContent(sampleContent("movie-001")); err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}
	if _, err := store.CreateContent(sampleContent("movie-001")); !errors.Is(err, ErrContentExists) {
		t.Fatalf("expected ErrContentExists, got %v", err)
	}
}

func TestUpdateContentAppliesPatch(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStorage(t, WithClock(func() time.Time { return now }))
	if _, err := store.CreateContent(sampleContent("movie-001")); err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}

	subtitle := "subtitles/fr.vtt"
	quality := []string{models.QualityATMOS}
	updated, err := store.UpdateContent("movie-001", ContentUpdate{
		SubTitle:  &subtitle,
		Quality:   &quality,
		UpdatedBy: "alice",
	})
	if err != nil {
		t.Fatalf("UpdateContent returned error: %v", err)
	}
	if updated.SubTitle != subtitle {
		t.Fatalf("expected subtitle %q, got %q", subtitle, updated.SubTitle)
	}
	if len(updated.Quality) != 1 || updated.Quality[0] != models.QualityATMOS {
		t.Fatalf("unexpected quality %v", updated.Quality)
	}
	if updated.AudioTrack != "eng-stereo" {
		t.Fatalf("expected untouched field to survive, got %q", updated.AudioTrack)
	}
	if !updated.LastUpdated.Equal(now) {
		t.Fatalf("expected LastUpdated %v, got %v", now, updated.LastUpdated)
	}
	if updated.LastUpdatedBy != "alice" {
		t.Fatalf("expected LastUpdatedBy alice, got %q", updated.LastUpdatedBy)
	}
}

func TestUpdateContentRepeatedPatchIsIdempotent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newTestStorage(t, WithClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	}))
	if _, err := store.CreateContent(sampleContent("movie-001")); err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}

	subtitle := "subtitles/fr.vtt"
	quality := []string{models.QualityATMOS}
	patch := ContentUpdate{SubTitle: &subtitle, Quality: &quality, UpdatedBy: "alice"}

	first, err := store.UpdateContent("movie-001", patch)
	if err != nil {
		t.Fatalf("UpdateContent returned error: %v", err)
	}
	second, err := store.UpdateContent("movie-001", patch)
	if err != nil {
		t.Fatalf("repeated UpdateContent returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected repeated patch to store the same record, first=%+v second=%+v", first, second)
	}

	stored, err := store.GetContent("movie-001")
	if err != nil {
		t.Fatalf("GetContent returned error: %v", err)
	}
	if !stored.LastUpdated.Equal(first.LastUpdated) {
		t.Fatalf("expected LastUpdated to stay %v, got %v", first.LastUpdated, stored.LastUpdated)
	}
}

func TestUpdateContentUnknownID(t *testing.T) {
	store := newTestStorage(t)
	subtitle := "subtitles/fr.vtt"
	if _, err := store.UpdateContent("missing", ContentUpdate{SubTitle: &subtitle}); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("expected ErrContentNotFound, got %v", err)
	}
}

func TestUpdateContentRejectsInvalidPatch(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.CreateContent(sampleContent("movie-001")); err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}

	empty := ""
	if _, err := store.UpdateContent("movie-001", ContentUpdate{AudioTrack: &empty}); err == nil {
		t.Fatal("expected error when clearing a required field")
	}
	if record, err := store.GetContent("movie-001"); err != nil || record.AudioTrack != "eng-stereo" {
		t.Fatalf("expected record untouched after rejected patch, got %+v err=%v", record, err)
	}
}

func TestListContentOrdered(t *testing.T) {
	store := newTestStorage(t)
	for _, id := range []string{"movie-b", "movie-a", "movie-c"} {
		if _, err := store.CreateContent(sampleContent(id)); err != nil {
			t.Fatalf("CreateContent %s returned error: %v", id, err)
		}
	}
	records, err := store.ListContent()
	if err != nil {
		t.Fatalf("ListContent returned error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, want := range []string{"movie-a", "movie-b", "movie-c"} {
		if records[i].ContentID != want {
			t.Fatalf("expected %s at index %d, got %s", want, i, records[i].ContentID)
		}
	}
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.CreateContent(sampleContent("movie-001")); err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}

	store.persistOverride = func(dataset) error { return errors.New("disk full") }
	subtitle := "subtitles/fr.vtt"
	if _, err := store.UpdateContent("movie-001", ContentUpdate{SubTitle: &subtitle}); err == nil {
		t.Fatal("expected persist failure to surface")
	}
	store.persistOverride = nil

	record, err := store.GetContent("movie-001")
	if err != nil {
		t.Fatalf("GetContent returned error: %v", err)
	}
	if record.SubTitle != "subtitles/en.vtt" {
		t.Fatalf("expected original subtitle after failed persist, got %q", record.SubTitle)
	}
}

func TestExportSnapshotCounts(t *testing.T) {
	store := newTestStorage(t)
	seedAccount(t, store, "alice", "password123", models.RoleAdmin)
	if _, err := store.CreateContent(sampleContent("movie-001")); err != nil {
		t.Fatalf("CreateContent returned error: %v", err)
	}

	snapshot := store.ExportSnapshot()
	counts := snapshot.Counts()
	if counts.Accounts != 1 || counts.Content != 1 {
		t.Fatalf("unexpected snapshot counts %+v", counts)
	}
}
