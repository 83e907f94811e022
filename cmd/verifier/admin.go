package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/banshee-data/accessgate/internal/db"
	"github.com/banshee-data/accessgate/internal/faceengine"
	"github.com/banshee-data/accessgate/internal/messaging"
	"github.com/banshee-data/accessgate/internal/verifier"
)

// admin carries out user administration. Kiosk side effects go out as
// commands to device; gallery changes go through retrain.
type admin struct {
	db      *db.DB
	pub     messaging.Publisher
	topics  messaging.Topics
	device  string
	dataset faceengine.Dataset
	retrain func(ctx context.Context) error
	out     io.Writer
}

func (a *admin) send(ctx context.Context, cmd messaging.Command) error {
	if err := verifier.SendCommand(ctx, a.pub, a.topics, a.device, cmd); err != nil {
		return fmt.Errorf("send %s to %s: %w", cmd.Command, a.device, err)
	}
	return nil
}

func (a *admin) deleteFinger(ctx context.Context, id int) error {
	return a.send(ctx, messaging.Command{Command: messaging.CommandDeleteFinger, FingerprintID: &id})
}

// addUser creates the user and, when enroll is set, asks the kiosk to
// start capturing them.
func (a *admin) addUser(ctx context.Context, u db.User, enroll bool) error {
	created, err := a.db.CreateUser(u)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %s (%s), access %s\n", created.Cedula, created.Nombres, created.Access)
	if !enroll {
		return nil
	}
	if err := a.send(ctx, messaging.Command{
		Command:     messaging.CommandStartAdminEnroll,
		UserCedula:  created.Cedula,
		UserNombres: created.Nombres,
	}); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "enrollment pending on %s\n", a.device)
	return nil
}

func (a *admin) listUsers() error {
	users, err := a.db.ListUsers()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(a.out, "No users found in database.")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CEDULA\tNOMBRES\tROLE\tACCESS\tFACIAL\tFINGERPRINT\tCREATED")
	for _, u := range users {
		finger := "-"
		if u.FingerprintID != nil {
			finger = fmt.Sprintf("#%d", *u.FingerprintID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			u.Cedula, u.Nombres, u.Role, u.Access, u.HasFacial, finger,
			u.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// deleteUser removes the user, their sensor template and their photos.
func (a *admin) deleteUser(ctx context.Context, cedula string) error {
	u, err := a.db.DeleteUser(cedula)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %s (%s)\n", u.Cedula, u.Nombres)

	var errs []error
	if u.FingerprintID != nil {
		errs = append(errs, a.deleteFinger(ctx, *u.FingerprintID))
	}
	if err := a.dataset.Remove(u.Cedula); err != nil {
		errs = append(errs, fmt.Errorf("remove photos: %w", err))
	}
	if u.HasFacial {
		errs = append(errs, a.retrain(ctx))
	}
	return errors.Join(errs...)
}

// setAccess changes the user's methods. Revoking fingerprint frees their
// sensor slot; revoking facial drops their encodings.
func (a *admin) setAccess(ctx context.Context, cedula string, access db.AccessType) error {
	u, err := a.db.UserByCedula(cedula)
	if err != nil {
		return err
	}
	if err := a.db.SetAccess(cedula, access); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: access %s -> %s\n", cedula, u.Access, access)

	var errs []error
	if u.Access.AllowsFingerprint() && !access.AllowsFingerprint() && u.FingerprintID != nil {
		errs = append(errs, a.deleteFinger(ctx, *u.FingerprintID))
		errs = append(errs, a.db.ClearFingerprint(cedula))
	}
	if u.Access.AllowsFacial() && !access.AllowsFacial() {
		errs = append(errs, a.retrain(ctx))
	}
	return errors.Join(errs...)
}

// initDB clears every fingerprint binding and wipes the device's sensor
// library to match.
func (a *admin) initDB(ctx context.Context) error {
	if err := a.send(ctx, messaging.Command{Command: messaging.CommandClearAllFingers}); err != nil {
		return err
	}
	if err := a.db.ClearAllFingerprints(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "fingerprint bindings cleared; %s told to empty its sensor\n", a.device)
	return nil
}
