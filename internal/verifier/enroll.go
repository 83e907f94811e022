package verifier

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/banshee-data/accessgate/internal/db"
	"github.com/banshee-data/accessgate/internal/faceengine"
	"github.com/banshee-data/accessgate/internal/messaging"
	"github.com/banshee-data/accessgate/internal/monitoring"
)

func deleteFinger(id int) *messaging.Command {
	return &messaging.Command{Command: messaging.CommandDeleteFinger, FingerprintID: &id}
}

// EnrollFacial stores an enrollment photo and queues its encoding for the
// gallery. Photos for unknown users are dropped without a reply.
func (o *Orchestrator) EnrollFacial(device string, data messaging.EnrollFacialData) Reply {
	u, err := o.db.UserByCedula(data.Cedula)
	if errors.Is(err, db.ErrNotFound) {
		monitoring.Logf("verifier: %s: enrollment photo for unknown cedula %q ignored", device, data.Cedula)
		return Reply{}
	}
	if err != nil {
		monitoring.Logf("verifier: lookup %s: %v", data.Cedula, err)
		return respond(messaging.StatusEnrollFacialFail, "Server error")
	}

	img, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data.ImageB64))
	if err != nil {
		monitoring.Logf("verifier: %s: enrollment photo for %s: %v", device, u.Cedula, err)
		return respond(messaging.StatusEnrollFacialFail, "Invalid image encoding")
	}
	if _, err := faceengine.CheckImage(img); err != nil {
		monitoring.Logf("verifier: %s: enrollment photo for %s: %v", device, u.Cedula, err)
		return respond(messaging.StatusEnrollFacialFail, "Invalid image")
	}
	path, err := o.dataset.Save(u.Cedula, img)
	if err != nil {
		monitoring.Logf("verifier: save enrollment photo for %s: %v", u.Cedula, err)
		return respond(messaging.StatusEnrollFacialFail, "Could not store photo")
	}
	monitoring.Logf("verifier: saved %s", path)

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		o.appendEncoding(u.Cedula, img)
	}()

	if !u.HasFacial {
		if err := o.db.SetHasFacial(u.Cedula, true); err != nil {
			monitoring.Logf("verifier: set has_facial for %s: %v", u.Cedula, err)
			return respond(messaging.StatusEnrollFacialFail, "Server error")
		}
	}
	return respond(messaging.StatusEnrollFacialOK, u.Nombres)
}

// appendEncoding adds img's face to the gallery.
func (o *Orchestrator) appendEncoding(cedula string, img []byte) {
	if o.engine == nil || o.gallery == nil {
		monitoring.Logf("verifier: face engine disabled, %s waits for a retrain", cedula)
		return
	}
	enc, err := faceengine.EncodeFirst(o.bgCtx, o.engine, img)
	if err != nil {
		monitoring.Logf("verifier: encode enrollment photo for %s: %v", cedula, err)
		return
	}
	if err := o.gallery.Append(cedula, enc); err != nil {
		monitoring.Logf("verifier: append encoding for %s: %v", cedula, err)
		return
	}
	monitoring.Logf("verifier: encoding for %s added, gallery holds %d", cedula, o.gallery.Len())
}

// EnrollFinger binds a freshly stored sensor slot to a user. When the bind
// is refused the device is told to delete the template it just stored.
func (o *Orchestrator) EnrollFinger(device string, data messaging.EnrollFingerData) Reply {
	if _, err := o.db.UserByCedula(data.Cedula); errors.Is(err, db.ErrNotFound) {
		monitoring.Logf("verifier: %s: cedula %q not found, deleting slot %d", device, data.Cedula, data.FingerprintID)
		return Reply{Command: deleteFinger(data.FingerprintID)}
	}
	if err := o.db.BindFingerprint(data.Cedula, data.FingerprintID); err != nil {
		monitoring.Logf("verifier: %s: bind fingerprint %d to %s: %v", device, data.FingerprintID, data.Cedula, err)
		r := respond(messaging.StatusEnrollFingerFailDB, "Could not save fingerprint")
		r.Command = deleteFinger(data.FingerprintID)
		return r
	}
	monitoring.Logf("verifier: %s: fingerprint %d bound to %s", device, data.FingerprintID, data.Cedula)
	return respond(messaging.StatusEnrollFingerOK, "")
}
