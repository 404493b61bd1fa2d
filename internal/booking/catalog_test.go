/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/friendsincode/timegate/internal/events"
)

func TestCatalogVersioning(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	sub := f.bus.Subscribe(events.EventOfferingUpdated)
	defer f.bus.Unsubscribe(events.EventOfferingUpdated, sub)

	o, err := f.catalog.CreateOffering(ctx, OfferingInput{Title: ptr("Mixing"), PriceCents: ptr(int64(9000))})
	if err != nil {
		t.Fatalf("CreateOffering: %v", err)
	}
	if !o.Active || o.Version != 1 {
		t.Fatalf("new offering active=%v version=%d, want active v1", o.Active, o.Version)
	}
	<-sub

	updated, err := f.catalog.UpdateOffering(ctx, o.ID, 1, OfferingInput{Description: ptr("Stereo mixdown")})
	if err != nil {
		t.Fatalf("UpdateOffering: %v", err)
	}
	if updated.Version != 2 || updated.Title != "Mixing" {
		t.Fatalf("updated offering = %+v", updated)
	}

	if _, err := f.catalog.UpdateOffering(ctx, o.ID, 1, OfferingInput{Title: ptr("Stale")}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update err = %v, want ErrVersionConflict", err)
	}
	if _, err := f.catalog.UpdateOffering(ctx, o.ID, 0, OfferingInput{Title: ptr("")}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("blank title err = %v, want ErrInvalidRequest", err)
	}
	if _, err := f.catalog.GetOffering(ctx, "missing"); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("GetOffering missing err = %v, want ErrServiceNotFound", err)
	}
}

func TestCatalogPublicListHidesInactive(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	keep, err := f.catalog.CreateOffering(ctx, OfferingInput{Title: ptr("Beta"), PriceCents: ptr(int64(100))})
	if err != nil {
		t.Fatalf("CreateOffering: %v", err)
	}
	hide, err := f.catalog.CreateOffering(ctx, OfferingInput{Title: ptr("Alpha"), PriceCents: ptr(int64(100))})
	if err != nil {
		t.Fatalf("CreateOffering: %v", err)
	}
	if _, err := f.catalog.SetActive(ctx, hide.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	public, err := f.catalog.PublicOfferings(ctx)
	if err != nil {
		t.Fatalf("PublicOfferings: %v", err)
	}
	if len(public) != 1 || public[0].ID != keep.ID {
		t.Fatalf("public offerings = %+v, want only %s", public, keep.ID)
	}

	all, err := f.catalog.ListOfferings(ctx, true)
	if err != nil {
		t.Fatalf("ListOfferings: %v", err)
	}
	if len(all) != 2 || all[0].Title != "Alpha" {
		t.Fatalf("admin list = %+v, want both ordered by title", all)
	}
}
