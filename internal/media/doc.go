// Package media wraps ffprobe and ffmpeg for video inspection and raw
// frame streaming. A Source decodes a video into BGR frames over a pipe,
// a Sink encodes processed frames back into a container and muxes the
// original audio.
package media
