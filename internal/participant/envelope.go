package participant

import (
	"encoding/binary"
	"time"

	"github.com/rtpsmesh/ddscore/internal/serdata"
)

// envelope carries the Serdata metadata that transport.Data's bare
// Payload can't: real RTPS puts exactly this (key hash, status info,
// source timestamp) in inline QoS parameters alongside the CDR-encoded
// payload, so a local loopback transport needs an equivalent of its own
// since it never constructs a wire frame at all. writerIID/strength
// ride along the same envelope so a reader's WriterInfo survives the
// round trip without a second lookup.
type envelope struct {
	key        serdata.KeyHash
	kind       serdata.Kind
	statusInfo serdata.StatusInfo
	sourceTS   time.Time
	writerIID  uint64
	strength   int32
}

const envelopeHeaderSize = 16 + 1 + 1 + 8 + 8 + 4

// encodeEnvelope packs hdr and body into the bytes that travel as a
// transport.Data Payload.
func encodeEnvelope(hdr envelope, body []byte) []byte {
	buf := make([]byte, envelopeHeaderSize+len(body))
	copy(buf[0:16], hdr.key[:])
	buf[16] = byte(hdr.kind)
	buf[17] = byte(hdr.statusInfo)
	binary.BigEndian.PutUint64(buf[18:26], uint64(hdr.sourceTS.UnixNano()))
	binary.BigEndian.PutUint64(buf[26:34], hdr.writerIID)
	binary.BigEndian.PutUint32(buf[34:38], uint32(hdr.strength))
	copy(buf[envelopeHeaderSize:], body)
	return buf
}

// decodeEnvelope is encodeEnvelope's inverse. wire shorter than the
// header is a protocol violation, not a recoverable condition — it can
// only happen if something other than encodeEnvelope produced it.
func decodeEnvelope(wire []byte) (envelope, []byte) {
	if len(wire) < envelopeHeaderSize {
		panic("participant: truncated envelope")
	}
	var hdr envelope
	copy(hdr.key[:], wire[0:16])
	hdr.kind = serdata.Kind(wire[16])
	hdr.statusInfo = serdata.StatusInfo(wire[17])
	hdr.sourceTS = time.Unix(0, int64(binary.BigEndian.Uint64(wire[18:26])))
	hdr.writerIID = binary.BigEndian.Uint64(wire[26:34])
	hdr.strength = int32(binary.BigEndian.Uint32(wire[34:38]))
	return hdr, wire[envelopeHeaderSize:]
}
