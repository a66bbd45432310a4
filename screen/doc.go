// Package screen provides display enumeration and screen capture on top of the
// screenshot tools of the running windowing system (grim, gnome-screenshot,
// screencapture, import). A Source holds an open capture configuration from which
// frames are grabbed, cropped, scaled and encoded.
package screen
