package faceengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/accessgate/internal/db"
	"github.com/banshee-data/accessgate/internal/monitoring"
)

// UserStore is the part of the user database a retrain needs.
type UserStore interface {
	FacialUsers() ([]db.User, error)
	SyncHasFacial(cedulas []string) error
}

// Trainer rebuilds the gallery from the enrollment dataset.
type Trainer struct {
	Engine  Engine
	Dataset Dataset
	Gallery *Gallery
	Users   UserStore
	// Progress, if set, is called after each image with the running count.
	Progress func(done, total int)
}

// TrainReport summarises a retrain.
type TrainReport struct {
	Users    int
	Images   int
	Encoded  int
	NoFace   []string
	Failed   []string
	Enrolled []string
}

// Retrain encodes every photo of every user whose access includes facial,
// syncs has_facial and swaps the result in as the new gallery. Photos
// without a face or that fail to encode are skipped.
func (t *Trainer) Retrain(ctx context.Context) (TrainReport, error) {
	var rep TrainReport
	users, err := t.Users.FacialUsers()
	if err != nil {
		return rep, fmt.Errorf("list facial users: %w", err)
	}
	rep.Users = len(users)

	type job struct {
		cedula string
		path   string
	}
	var jobs []job
	for _, u := range users {
		paths, err := t.Dataset.Images(u.Cedula)
		if err != nil {
			monitoring.Logf("retrain: skip %s: %v", u.Cedula, err)
			continue
		}
		for _, p := range paths {
			jobs = append(jobs, job{u.Cedula, p})
		}
	}
	rep.Images = len(jobs)

	var entries []Entry
	seen := make(map[string]bool)
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		enc, err := t.encode(ctx, j.path)
		switch {
		case errors.Is(err, ErrNoFace):
			rep.NoFace = append(rep.NoFace, j.path)
		case err != nil:
			monitoring.Logf("retrain: %s: %v", j.path, err)
			rep.Failed = append(rep.Failed, j.path)
		default:
			entries = append(entries, Entry{Cedula: j.cedula, Encoding: enc})
			if !seen[j.cedula] {
				seen[j.cedula] = true
				rep.Enrolled = append(rep.Enrolled, j.cedula)
			}
		}
		if t.Progress != nil {
			t.Progress(i+1, len(jobs))
		}
	}
	rep.Encoded = len(entries)

	if err := t.Users.SyncHasFacial(rep.Enrolled); err != nil {
		return rep, fmt.Errorf("sync has_facial: %w", err)
	}
	if err := t.Gallery.Replace(entries); err != nil {
		return rep, fmt.Errorf("write gallery: %w", err)
	}
	monitoring.Logf("retrain: %d encodings for %d users from %d images", rep.Encoded, len(rep.Enrolled), rep.Images)
	return rep, nil
}

func (t *Trainer) encode(ctx context.Context, path string) ([]float64, error) {
	img, err := t.Dataset.FS.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return EncodeFirst(ctx, t.Engine, img)
}
