package screenshare_test

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"screenshare/mcp"
	"screenshare/screenshare"
)

func writeFrameFile(t *testing.T, dir, name string, content []byte, modTime time.Time) {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write frame file: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("failed to set frame mtime: %v", err)
	}
}

func TestListResourcesNewestFirst(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	base := time.Now().Add(-time.Hour)
	writeFrameFile(t, f.saveDir, "screen_old.jpg", []byte("old"), base)
	writeFrameFile(t, f.saveDir, "screen_mid.jpg", []byte("mid"), base.Add(time.Minute))
	writeFrameFile(t, f.saveDir, "scr_new.png", []byte("new"), base.Add(2*time.Minute))
	// Non-frame files in the save directory stay invisible.
	writeFrameFile(t, f.saveDir, "notes.txt", []byte("x"), base)

	res, err := f.srv.ListResources(context.Background(), mcp.ListResourcesParams{}, nil, nil)
	if err != nil {
		t.Fatalf("failed to list resources: %v", err)
	}

	want := []string{"scr_new.png", "screen_mid.jpg", "screen_old.jpg"}
	if len(res.Resources) != len(want) {
		t.Fatalf("got %d resources, want %d", len(res.Resources), len(want))
	}
	for i, name := range want {
		if res.Resources[i].Name != name {
			t.Errorf("resource %d: got %s, want %s", i, res.Resources[i].Name, name)
		}
		if res.Resources[i].URI != "screen://frames/"+name {
			t.Errorf("resource %d URI: got %s", i, res.Resources[i].URI)
		}
	}
	if res.Resources[0].MimeType != "image/png" {
		t.Errorf("png frame mime %s", res.Resources[0].MimeType)
	}
	if res.NextCursor != "" {
		t.Errorf("unexpected next cursor %q", res.NextCursor)
	}
}

func TestListResourcesPagination(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 13; i++ {
		name := fmt.Sprintf("screen_%02d.jpg", i)
		writeFrameFile(t, f.saveDir, name, []byte{byte(i)}, base.Add(time.Duration(i)*time.Minute))
	}

	first, err := f.srv.ListResources(context.Background(), mcp.ListResourcesParams{}, nil, nil)
	if err != nil {
		t.Fatalf("failed to list first page: %v", err)
	}
	if len(first.Resources) != 10 {
		t.Fatalf("first page has %d resources, want 10", len(first.Resources))
	}
	if first.Resources[0].Name != "screen_12.jpg" {
		t.Errorf("first resource %s, want the newest frame", first.Resources[0].Name)
	}
	if first.NextCursor == "" {
		t.Fatal("first page has no next cursor")
	}

	second, err := f.srv.ListResources(context.Background(), mcp.ListResourcesParams{
		Cursor: first.NextCursor,
	}, nil, nil)
	if err != nil {
		t.Fatalf("failed to list second page: %v", err)
	}
	if len(second.Resources) != 3 {
		t.Fatalf("second page has %d resources, want 3", len(second.Resources))
	}
	if second.NextCursor != "" {
		t.Errorf("second page has next cursor %q", second.NextCursor)
	}
}

func TestListResourcesBadCursor(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	writeFrameFile(t, f.saveDir, "screen_only.jpg", []byte("x"), time.Now())

	// A stale or hostile cursor must come back as an error, not take down the server.
	for _, cursor := range []string{"-1", "-100", "nonsense"} {
		_, err := f.srv.ListResources(context.Background(), mcp.ListResourcesParams{
			Cursor: cursor,
		}, nil, nil)
		if err == nil {
			t.Errorf("cursor %q did not fail", cursor)
		}
	}
}

func TestListResourcesEmptyDir(t *testing.T) {
	f := newFixture(t, screenshare.Config{SaveDir: filepath.Join(t.TempDir(), "never-created")})

	res, err := f.srv.ListResources(context.Background(), mcp.ListResourcesParams{}, nil, nil)
	if err != nil {
		t.Fatalf("listing a missing save directory failed: %v", err)
	}
	if len(res.Resources) != 0 {
		t.Errorf("got %d resources from a missing directory", len(res.Resources))
	}
}

func TestReadResource(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	content := []byte("jpeg bytes")
	writeFrameFile(t, f.saveDir, "screen_read.jpg", content, time.Now())

	res, err := f.srv.ReadResource(context.Background(), mcp.ReadResourceParams{
		URI: "screen://frames/screen_read.jpg",
	}, nil, nil)
	if err != nil {
		t.Fatalf("failed to read resource: %v", err)
	}
	if len(res.Contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(res.Contents))
	}

	decoded, err := base64.StdEncoding.DecodeString(res.Contents[0].Blob)
	if err != nil {
		t.Fatalf("blob is not valid base64: %v", err)
	}
	if string(decoded) != string(content) {
		t.Errorf("blob decodes to %q, want %q", decoded, content)
	}
	if res.Contents[0].MimeType != "image/jpeg" {
		t.Errorf("mime %s, want image/jpeg", res.Contents[0].MimeType)
	}
}

func TestReadResourceRejectsBadURIs(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	for _, uri := range []string{
		"test://other/thing",
		"screen://frames/",
		"screen://frames/../../etc/passwd",
	} {
		if _, err := f.srv.ReadResource(context.Background(), mcp.ReadResourceParams{URI: uri}, nil, nil); err == nil {
			t.Errorf("reading %q did not fail", uri)
		}
	}
}

func TestCaptureNotifiesSubscribers(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	f.srv.SubscribeResource(mcp.SubscribeResourceParams{URI: "screen://frames"})

	updates := make(chan string, 10)
	go func() {
		for uri := range f.srv.SubscribedResourceUpdates() {
			updates <- uri
		}
	}()

	listChanges := make(chan struct{}, 10)
	go func() {
		for range f.srv.ResourceListUpdates() {
			listChanges <- struct{}{}
		}
	}()

	callTool(t, f.srv, "screenshare_capture", nil, nil)

	select {
	case uri := <-updates:
		if uri != "screen://frames" {
			t.Errorf("update for %s, want the frames collection", uri)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no resource update after capture")
	}

	select {
	case <-listChanges:
	case <-time.After(5 * time.Second):
		t.Fatal("no list change after capture")
	}
}

func TestUnsubscribeStopsUpdates(t *testing.T) {
	f := newFixture(t, screenshare.Config{})

	f.srv.SubscribeResource(mcp.SubscribeResourceParams{URI: "screen://frames"})
	f.srv.UnsubscribeResource(mcp.UnsubscribeResourceParams{URI: "screen://frames"})

	updates := make(chan string, 10)
	go func() {
		for uri := range f.srv.SubscribedResourceUpdates() {
			updates <- uri
		}
	}()

	callTool(t, f.srv, "screenshare_capture", nil, nil)

	select {
	case uri := <-updates:
		t.Errorf("got update for %s after unsubscribe", uri)
	case <-time.After(100 * time.Millisecond):
	}
}
