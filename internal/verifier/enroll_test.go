package verifier

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/accessgate/internal/db"
	"github.com/banshee-data/accessgate/internal/messaging"
)

func TestEnrollFacial(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.addUser(t, "0102", "Alice", db.AccessFacial)
	photo := testJPEG(t)

	r := f.orch.EnrollFacial("kiosk1", messaging.EnrollFacialData{
		Cedula:   "0102",
		ImageB64: base64.StdEncoding.EncodeToString(photo),
	})
	require.NotNil(t, r.Response)
	assert.Equal(t, messaging.StatusEnrollFacialOK, r.Response.Status)
	assert.Nil(t, r.Command)

	f.orch.Wait()
	assert.Equal(t, map[string]int{"0102": 1}, f.gallery.Users())

	saved, err := f.fs.ReadFile("/var/lib/accessgate/dataset/0102/enroll_1.jpg")
	require.NoError(t, err)
	assert.Equal(t, photo, saved)

	u, err := f.db.UserByCedula("0102")
	require.NoError(t, err)
	assert.True(t, u.HasFacial)

	r = f.orch.EnrollFacial("kiosk1", messaging.EnrollFacialData{
		Cedula:   "0102",
		ImageB64: base64.StdEncoding.EncodeToString(photo),
	})
	assert.Equal(t, messaging.StatusEnrollFacialOK, r.Response.Status)
	f.orch.Wait()
	assert.True(t, f.fs.Exists("/var/lib/accessgate/dataset/0102/enroll_2.jpg"))
	assert.Equal(t, 2, f.gallery.Len())
}

func TestEnrollFacial_UnknownUserIgnored(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	r := f.orch.EnrollFacial("kiosk1", messaging.EnrollFacialData{
		Cedula:   "9999",
		ImageB64: base64.StdEncoding.EncodeToString(testJPEG(t)),
	})
	assert.Nil(t, r.Response)
	assert.Nil(t, r.Command)
	assert.False(t, f.fs.Exists("/var/lib/accessgate/dataset/9999"))
}

func TestEnrollFacial_Failures(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.addUser(t, "0102", "Alice", db.AccessFacial)

	for name, b64 := range map[string]string{
		"bad base64": "%%%",
		"not image":  base64.StdEncoding.EncodeToString([]byte("hello")),
	} {
		t.Run(name, func(t *testing.T) {
			r := f.orch.EnrollFacial("kiosk1", messaging.EnrollFacialData{Cedula: "0102", ImageB64: b64})
			require.NotNil(t, r.Response)
			assert.Equal(t, messaging.StatusEnrollFacialFail, r.Response.Status)
		})
	}
	u, err := f.db.UserByCedula("0102")
	require.NoError(t, err)
	assert.False(t, u.HasFacial)
}

func TestEnrollFacial_EncodingFailureStillStoresPhoto(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.addUser(t, "0102", "Alice", db.AccessFacial)
	f.engine.detectErr = errEngine

	r := f.orch.EnrollFacial("kiosk1", messaging.EnrollFacialData{
		Cedula:   "0102",
		ImageB64: base64.StdEncoding.EncodeToString(testJPEG(t)),
	})
	assert.Equal(t, messaging.StatusEnrollFacialOK, r.Response.Status)
	f.orch.Wait()
	assert.Zero(t, f.gallery.Len())
	assert.True(t, f.fs.Exists("/var/lib/accessgate/dataset/0102/enroll_1.jpg"))
}

func TestEnrollFinger(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.addUser(t, "0102", "Alice", db.AccessBoth)
	f.addUser(t, "0304", "Bob", db.AccessBoth)
	require.NoError(t, f.db.BindFingerprint("0304", 7))

	t.Run("bound", func(t *testing.T) {
		r := f.orch.EnrollFinger("kiosk1", messaging.EnrollFingerData{Cedula: "0102", FingerprintID: 5})
		require.NotNil(t, r.Response)
		assert.Equal(t, messaging.StatusEnrollFingerOK, r.Response.Status)
		assert.Nil(t, r.Command)

		u, err := f.db.UserByFingerprint(5)
		require.NoError(t, err)
		assert.Equal(t, "0102", u.Cedula)
		assert.True(t, u.HasFingerprint)
	})

	t.Run("slot in use", func(t *testing.T) {
		r := f.orch.EnrollFinger("kiosk1", messaging.EnrollFingerData{Cedula: "0102", FingerprintID: 7})
		require.NotNil(t, r.Response)
		assert.Equal(t, messaging.StatusEnrollFingerFailDB, r.Response.Status)
		require.NotNil(t, r.Command)
		assert.Equal(t, messaging.CommandDeleteFinger, r.Command.Command)
		assert.Equal(t, 7, *r.Command.FingerprintID)

		u, err := f.db.UserByFingerprint(7)
		require.NoError(t, err)
		assert.Equal(t, "0304", u.Cedula, "existing binding untouched")
	})

	t.Run("unknown cedula", func(t *testing.T) {
		r := f.orch.EnrollFinger("kiosk1", messaging.EnrollFingerData{Cedula: "9999", FingerprintID: 8})
		assert.Nil(t, r.Response)
		require.NotNil(t, r.Command)
		assert.Equal(t, messaging.Command{Command: messaging.CommandDeleteFinger, FingerprintID: r.Command.FingerprintID}, *r.Command)
		assert.Equal(t, 8, *r.Command.FingerprintID)
	})
}
