package media

import "context"

const playlistFile = "video.m3u8"

// PackageHLS repackages the stored input into an HLS playlist plus segments
// without re-encoding. Stream copy keeps the operation I/O-bound; inputs whose
// codecs cannot be carried into MPEG-TS surface as a tool failure rather than
// triggering a transcode.
func PackageHLS(ctx context.Context, runner CommandRunner, ffmpeg, inputPath, playlistPath string) error {
	return runner.Run(ctx, ffmpeg,
		"-i", inputPath,
		"-codec:", "copy",
		"-start_number", "0",
		"-hls_time", "10",
		"-hls_list_size", "0",
		"-f", "hls",
		playlistPath)
}
