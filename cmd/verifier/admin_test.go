package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/accessgate/internal/db"
	"github.com/banshee-data/accessgate/internal/faceengine"
	"github.com/banshee-data/accessgate/internal/fsutil"
	"github.com/banshee-data/accessgate/internal/messaging"
)

type sent struct {
	topic string
	qos   byte
	cmd   messaging.Command
}

type recordingBus struct {
	msgs []sent
}

func (b *recordingBus) record(topic string, qos byte, payload []byte) error {
	var cmd messaging.Command
	if err := messaging.Decode(payload, &cmd); err != nil {
		return err
	}
	b.msgs = append(b.msgs, sent{topic, qos, cmd})
	return nil
}

func (b *recordingBus) Publish(_ context.Context, topic string, payload []byte) error {
	return b.record(topic, 0, payload)
}

func (b *recordingBus) PublishQoS(_ context.Context, topic string, qos byte, payload []byte) error {
	return b.record(topic, qos, payload)
}

type adminFixture struct {
	a        *admin
	bus      *recordingBus
	fs       *fsutil.MemoryFileSystem
	out      *bytes.Buffer
	retrains int
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	f := &adminFixture{
		bus: &recordingBus{},
		fs:  fsutil.NewMemoryFileSystem(),
		out: &bytes.Buffer{},
	}
	f.a = &admin{
		db:      database,
		pub:     f.bus,
		topics:  messaging.NewTopics(""),
		device:  "kiosk1",
		dataset: faceengine.Dataset{FS: f.fs, Root: "/data/dataset"},
		out:     f.out,
		retrain: func(context.Context) error {
			f.retrains++
			return nil
		},
	}
	return f
}

func (f *adminFixture) user(t *testing.T, cedula string, access db.AccessType, finger *int, facial bool) {
	t.Helper()
	_, err := f.a.db.CreateUser(db.User{Cedula: cedula, Nombres: "User " + cedula, Access: access, HasFacial: facial})
	require.NoError(t, err)
	if finger != nil {
		require.NoError(t, f.a.db.BindFingerprint(cedula, *finger))
	}
}

func intPtr(v int) *int { return &v }

func TestAdmin_AddUserStartsEnrollment(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	require.NoError(t, f.a.addUser(ctx, db.User{Cedula: "100", Nombres: "Ana", Access: db.AccessBoth}, true))
	require.NoError(t, f.a.addUser(ctx, db.User{Cedula: "200", Nombres: "Luis"}, false))

	want := []sent{{
		topic: "acceso/command/kiosk1",
		cmd:   messaging.Command{Command: messaging.CommandStartAdminEnroll, UserCedula: "100", UserNombres: "Ana"},
	}}
	if diff := cmp.Diff(want, f.bus.msgs, cmp.AllowUnexported(sent{})); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}

	u, err := f.a.db.UserByCedula("200")
	require.NoError(t, err)
	assert.Equal(t, db.AccessNone, u.Access)

	assert.Error(t, f.a.addUser(ctx, db.User{Cedula: "100", Nombres: "Dup"}, false))
}

func TestAdmin_DeleteUser(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	f.user(t, "100", db.AccessBoth, intPtr(7), true)
	_, err := f.a.dataset.Save("100", []byte("jpeg"))
	require.NoError(t, err)

	require.NoError(t, f.a.deleteUser(ctx, "100"))

	require.Len(t, f.bus.msgs, 1)
	assert.Equal(t, messaging.CommandDeleteFinger, f.bus.msgs[0].cmd.Command)
	assert.Equal(t, intPtr(7), f.bus.msgs[0].cmd.FingerprintID)
	assert.False(t, f.fs.Exists("/data/dataset/100"))
	assert.Equal(t, 1, f.retrains)

	_, err = f.a.db.UserByCedula("100")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.ErrorIs(t, f.a.deleteUser(ctx, "100"), db.ErrNotFound)
}

func TestAdmin_DeleteUserWithoutBiometrics(t *testing.T) {
	f := newAdminFixture(t)
	f.user(t, "300", db.AccessNone, nil, false)
	require.NoError(t, f.a.deleteUser(context.Background(), "300"))
	assert.Empty(t, f.bus.msgs)
	assert.Zero(t, f.retrains)
}

func TestAdmin_SetAccess(t *testing.T) {
	tests := []struct {
		name        string
		from, to    db.AccessType
		wantDelete  bool
		wantRetrain int
	}{
		{"revoke fingerprint", db.AccessBoth, db.AccessFacial, true, 0},
		{"revoke facial", db.AccessBoth, db.AccessFingerprint, false, 1},
		{"revoke all", db.AccessBoth, db.AccessNone, true, 1},
		{"grant", db.AccessNone, db.AccessBoth, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture(t)
			f.user(t, "100", tt.from, intPtr(3), true)

			require.NoError(t, f.a.setAccess(context.Background(), "100", tt.to))

			u, err := f.a.db.UserByCedula("100")
			require.NoError(t, err)
			assert.Equal(t, tt.to, u.Access)
			assert.Equal(t, tt.wantRetrain, f.retrains)
			if tt.wantDelete {
				require.Len(t, f.bus.msgs, 1)
				assert.Equal(t, messaging.CommandDeleteFinger, f.bus.msgs[0].cmd.Command)
				assert.Nil(t, u.FingerprintID)
			} else {
				assert.Empty(t, f.bus.msgs)
				assert.Equal(t, intPtr(3), u.FingerprintID)
			}
		})
	}
}

func TestAdmin_RetrainErrorIsReported(t *testing.T) {
	f := newAdminFixture(t)
	f.user(t, "100", db.AccessFacial, nil, true)
	f.a.retrain = func(context.Context) error { return errors.New("no engine") }

	err := f.a.setAccess(context.Background(), "100", db.AccessNone)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no engine")

	u, err := f.a.db.UserByCedula("100")
	require.NoError(t, err)
	assert.Equal(t, db.AccessNone, u.Access, "access change is kept")
}

func TestAdmin_InitDB(t *testing.T) {
	f := newAdminFixture(t)
	f.user(t, "100", db.AccessBoth, intPtr(1), false)
	f.user(t, "200", db.AccessFingerprint, intPtr(2), false)

	require.NoError(t, f.a.initDB(context.Background()))

	require.Len(t, f.bus.msgs, 1)
	assert.Equal(t, messaging.CommandClearAllFingers, f.bus.msgs[0].cmd.Command)
	assert.Equal(t, byte(1), f.bus.msgs[0].qos)

	users, err := f.a.db.ListUsers()
	require.NoError(t, err)
	for _, u := range users {
		assert.Nil(t, u.FingerprintID, u.Cedula)
		assert.False(t, u.HasFingerprint, u.Cedula)
	}
}

func TestAdmin_ListUsers(t *testing.T) {
	f := newAdminFixture(t)
	require.NoError(t, f.a.listUsers())
	assert.Equal(t, "No users found in database.\n", f.out.String())

	f.out.Reset()
	f.user(t, "100", db.AccessBoth, intPtr(9), true)
	require.NoError(t, f.a.listUsers())
	assert.Contains(t, f.out.String(), "CEDULA")
	assert.Contains(t, f.out.String(), "User 100")
	assert.Contains(t, f.out.String(), "#9")
}
