package screenshare

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"screenshare/mcp"
	"screenshare/screen"
)

const (
	// framesCollectionURI is the subscribable collection; it receives an update
	// notification whenever a new frame is saved.
	framesCollectionURI = "screen://frames"
	framesURIPrefix     = "screen://frames/"

	resourcePageSize = 10
)

type frameInfo struct {
	name    string
	modTime time.Time
}

// ListResources implements mcp.ResourceServer interface. Saved frames are listed
// newest-first with cursor pagination.
func (s *Server) ListResources(
	_ context.Context,
	params mcp.ListResourcesParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.ListResourcesResult, error) {
	s.log(mcp.LogLevelDebug, fmt.Sprintf("ListResources: cursor=%q", params.Cursor))

	frames, err := s.listFrames()
	if err != nil {
		return mcp.ListResourcesResult{}, err
	}

	startIndex := 0
	if params.Cursor != "" {
		startIndex, err = strconv.Atoi(params.Cursor)
		if err != nil || startIndex < 0 {
			return mcp.ListResourcesResult{}, fmt.Errorf("invalid cursor: %s", params.Cursor)
		}
	}
	if startIndex > len(frames) {
		startIndex = len(frames)
	}
	endIndex := startIndex + resourcePageSize
	if endIndex > len(frames) {
		endIndex = len(frames)
	}

	resources := make([]mcp.Resource, 0, endIndex-startIndex)
	for _, f := range frames[startIndex:endIndex] {
		resources = append(resources, mcp.Resource{
			URI:      framesURIPrefix + f.name,
			Name:     f.name,
			MimeType: frameMIME(f.name),
		})
	}

	nextCursor := ""
	if endIndex < len(frames) {
		nextCursor = strconv.Itoa(endIndex)
	}

	return mcp.ListResourcesResult{
		Resources:  resources,
		NextCursor: nextCursor,
	}, nil
}

// ReadResource implements mcp.ResourceServer interface. Frame contents are returned
// as a base64 blob.
func (s *Server) ReadResource(
	_ context.Context,
	params mcp.ReadResourceParams,
	_ mcp.ProgressReporter,
	_ mcp.RequestClientFunc,
) (mcp.ReadResourceResult, error) {
	s.log(mcp.LogLevelDebug, fmt.Sprintf("ReadResource: %s", params.URI))

	name, ok := strings.CutPrefix(params.URI, framesURIPrefix)
	if !ok || name == "" {
		return mcp.ReadResourceResult{}, fmt.Errorf("resource not found: %s", params.URI)
	}
	// The frame name must stay inside the save directory.
	if name != filepath.Base(name) {
		return mcp.ReadResourceResult{}, fmt.Errorf("resource not found: %s", params.URI)
	}

	bs, err := os.ReadFile(filepath.Join(s.saveDir(""), name))
	if err != nil {
		return mcp.ReadResourceResult{}, fmt.Errorf("failed to read frame: %w", err)
	}

	return mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			{
				URI:      params.URI,
				MimeType: frameMIME(name),
				Blob:     base64.StdEncoding.EncodeToString(bs),
			},
		},
	}, nil
}

// SubscribeResource implements mcp.ResourceSubscriptionHandler interface.
func (s *Server) SubscribeResource(params mcp.SubscribeResourceParams) {
	s.log(mcp.LogLevelDebug, fmt.Sprintf("SubscribeResource: %s", params.URI))

	s.resourceSubscribers.Store(params.URI, struct{}{})
}

// UnsubscribeResource implements mcp.ResourceSubscriptionHandler interface.
func (s *Server) UnsubscribeResource(params mcp.UnsubscribeResourceParams) {
	s.log(mcp.LogLevelDebug, fmt.Sprintf("UnsubscribeResource: %s", params.URI))

	s.resourceSubscribers.Delete(params.URI)
}

// SubscribedResourceUpdates implements mcp.ResourceSubscriptionHandler interface.
func (s *Server) SubscribedResourceUpdates() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			select {
			case <-s.done:
				return
			case uri := <-s.frameUpdates:
				if !yield(uri) {
					return
				}
			}
		}
	}
}

// ResourceListUpdates implements mcp.ResourceListUpdater interface.
func (s *Server) ResourceListUpdates() iter.Seq[struct{}] {
	return func(yield func(struct{}) bool) {
		for {
			select {
			case <-s.done:
				return
			case <-s.listUpdates:
				if !yield(struct{}{}) {
					return
				}
			}
		}
	}
}

// notifyFrameSaved fans a newly saved frame out to resource watchers: a list_changed
// notification, plus updated notifications for the subscribed collection and frame URIs.
func (s *Server) notifyFrameSaved(name string) {
	select {
	case s.listUpdates <- struct{}{}:
	default:
		// An update is already pending; one notification is enough.
	}

	for _, uri := range []string{framesCollectionURI, framesURIPrefix + name} {
		if _, ok := s.resourceSubscribers.Load(uri); !ok {
			continue
		}
		select {
		case s.frameUpdates <- uri:
		case <-s.done:
			return
		default:
			// Nothing is draining updates; drop rather than block the capture path.
		}
	}
}

// listFrames scans the save directory for frame files, newest first.
func (s *Server) listFrames() ([]frameInfo, error) {
	entries, err := os.ReadDir(s.saveDir(""))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read save directory: %w", err)
	}

	var frames []frameInfo
	for _, entry := range entries {
		if entry.IsDir() || !isFrameName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		frames = append(frames, frameInfo{name: entry.Name(), modTime: info.ModTime()})
	}

	sort.Slice(frames, func(i, j int) bool {
		if !frames[i].modTime.Equal(frames[j].modTime) {
			return frames[i].modTime.After(frames[j].modTime)
		}
		return frames[i].name > frames[j].name
	})

	return frames, nil
}

func isFrameName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".jpg" && ext != ".png" {
		return false
	}
	return strings.HasPrefix(name, "screen_") || strings.HasPrefix(name, "scr_")
}

func frameMIME(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".png") {
		return screen.FormatPNG.MIME()
	}
	return screen.FormatJPG.MIME()
}
