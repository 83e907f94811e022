package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/banshee-data/accessgate/internal/faceengine"
	"github.com/banshee-data/accessgate/internal/fsutil"
	"github.com/banshee-data/accessgate/internal/messaging"
)

func topics() messaging.Topics { return messaging.NewTopics(cfg.TopicPrefix) }

// dialBus connects to the broker. role distinguishes the long running
// server from one-shot CLI invocations in the broker's client list.
func dialBus(role string) (*messaging.MQTTBus, error) {
	clientID := cfg.Broker.ClientID
	if clientID == "" || role != "serve" {
		clientID = "verifier-" + role + "-" + uuid.NewString()[:8]
	}
	return messaging.DialMQTT(messaging.MQTTOptions{
		Broker:   cfg.Broker.URL,
		ClientID: clientID,
		Username: cfg.Broker.Username,
		Password: cfg.Broker.Password,
		Topics:   topics(),
	})
}

func newEngine(ctx context.Context) (*faceengine.WorkerPool, error) {
	return faceengine.NewWorkerPool(ctx, faceengine.PoolOptions{
		Command: cfg.FaceEngine.Command,
		Args:    []string{cfg.FaceEngine.Script},
		Workers: cfg.FaceEngine.Workers,
		Timeout: cfg.FaceEngine.GetTimeout(),
	})
}

func newDataset() faceengine.Dataset {
	return faceengine.Dataset{FS: fsutil.OSFileSystem{}, Root: cfg.Matching.DatasetDir}
}

func newGallery() *faceengine.Gallery {
	return faceengine.NewGallery(fsutil.OSFileSystem{}, cfg.Matching.EncodingsPath)
}

// retrain rebuilds the gallery snapshot from the dataset. A running server
// picks it up on SIGHUP.
func retrain(ctx context.Context, showProgress bool) (faceengine.TrainReport, error) {
	engine, err := newEngine(ctx)
	if err != nil {
		return faceengine.TrainReport{}, fmt.Errorf("start face engine: %w", err)
	}
	defer engine.Close()

	t := &faceengine.Trainer{
		Engine:  engine,
		Dataset: newDataset(),
		Gallery: newGallery(),
		Users:   store,
	}
	if showProgress {
		var bar *progressbar.ProgressBar
		t.Progress = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Encoding faces"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionShowCount(),
				)
			}
			bar.Set(done)
		}
		defer func() {
			if bar != nil {
				bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
		}()
	}
	rep, err := t.Retrain(ctx)
	if err != nil {
		return rep, err
	}
	log.Printf("retrain: %d users, %d images, %d encoded, %d without a face, %d failed",
		rep.Users, rep.Images, rep.Encoded, len(rep.NoFace), len(rep.Failed))
	return rep, nil
}
