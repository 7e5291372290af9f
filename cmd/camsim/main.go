// Command camsim serves a synthetic MJPEG stream on /video, standing in
// for an IP camera during development and integration testing.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image/jpeg"
	"log"
	"net/http"
	"time"

	"github.com/inkworks/pentrack/internal/camera"
)

var (
	listen  = flag.String("listen", ":8080", "Listen address")
	fps     = flag.Int("fps", 15, "Frames per second")
	width   = flag.Int("width", 640, "Frame width")
	height  = flag.Int("height", 480, "Frame height")
	quality = flag.Int("quality", 80, "JPEG quality")
)

func main() {
	flag.Parse()
	if *fps < 1 {
		log.Fatal("fps must be at least 1")
	}

	interval := time.Second / time.Duration(*fps)

	http.HandleFunc("/video", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		log.Printf("client connected: %s", r.RemoteAddr)
		defer log.Printf("client disconnected: %s", r.RemoteAddr)

		// Each client gets its own generator so frame pacing stays
		// independent.
		cam := camera.NewSynthetic(*width, *height)
		cam.Delay = 0
		defer cam.Close()

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

		var buf bytes.Buffer
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
			}

			frame, err := cam.Read()
			if err != nil {
				return
			}
			buf.Reset()
			if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: *quality}); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
				return
			}
			if _, err := w.Write(buf.Bytes()); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	})

	log.Printf("camsim streaming %dx%d @ %d fps on %s/video", *width, *height, *fps, *listen)
	log.Fatal(http.ListenAndServe(*listen, nil))
}
