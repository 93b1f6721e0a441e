package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lvgrader/grader/internal/model"
)

// chunkTimeout bounds how long one side waits for the next chunk before
// treating the transfer as dead, matching spec.md's "a dropped RPC
// channel cancels any in-flight file transfers".
const chunkTimeout = 30 * time.Second

// ServeFile answers RequestFile(digest) calls for one originator: it
// subscribes to requestSubject, and every time a requester publishes a
// digest there, streams open(digest)'s bytes back to the requester's
// reply-to inbox as a sequence of Chunk frames terminated by a
// zero-length chunk. Each requester uses its own inbox, which keeps
// concurrent transfers from colliding.
func ServeFile(nc *nats.Conn, requestSubject string, open func(digest model.Digest) (io.ReadCloser, error)) (*nats.Subscription, error) {
	return nc.Subscribe(requestSubject, func(msg *nats.Msg) {
		digest := model.Digest(msg.Data)
		rc, err := open(digest)
		if err != nil {
			msg.Respond(nil) // empty reply signals "not found" to RequestFile
			return
		}
		defer rc.Close()

		buf := make([]byte, MaxChunkBytes)
		for {
			n, err := rc.Read(buf)
			if n > 0 {
				chunk, _ := json.Marshal(Chunk{Data: buf[:n]})
				msg.Respond(chunk)
			}
			if err == io.EOF {
				final, _ := json.Marshal(Chunk{Data: nil})
				msg.Respond(final)
				return
			}
			if err != nil {
				return
			}
		}
	})
}

// RequestFile fetches one artifact from the originator addressed by
// requestSubject, writing its bytes into sink as chunks arrive. This is
// the executor-side half of the reverse channel spec.md describes for
// inputs the executor cannot find in its own store.
func RequestFile(nc *nats.Conn, requestSubject string, digest model.Digest, sink io.Writer) error {
	inbox := nats.NewInbox()
	sub, err := nc.SubscribeSync(inbox)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	if err := nc.PublishRequest(requestSubject, inbox, []byte(digest)); err != nil {
		return fmt.Errorf("request file %s: %w", digest, err)
	}

	for {
		msg, err := sub.NextMsg(chunkTimeout)
		if err != nil {
			return fmt.Errorf("await chunk of %s: %w", digest, err)
		}
		if len(msg.Data) == 0 {
			return fmt.Errorf("request file %s: not found at originator", digest)
		}
		var chunk Chunk
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			return fmt.Errorf("decode chunk: %w", err)
		}
		if len(chunk.Data) == 0 {
			return nil
		}
		if _, err := sink.Write(chunk.Data); err != nil {
			return err
		}
	}
}

// SendStream uploads src's bytes to receiveSubject as a sequence of
// SendChunk frames, terminated by a zero-length chunk — the output-upload
// half of spec.md's file transfer protocol.
func SendStream(nc *nats.Conn, receiveSubject string, src io.Reader) error {
	buf := make([]byte, MaxChunkBytes)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			payload, _ := json.Marshal(Chunk{Data: buf[:n]})
			if perr := nc.Publish(receiveSubject, payload); perr != nil {
				return perr
			}
		}
		if err == io.EOF {
			final, _ := json.Marshal(Chunk{Data: nil})
			return nc.Publish(receiveSubject, final)
		}
		if err != nil {
			return err
		}
	}
}
