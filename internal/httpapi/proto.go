package httpapi

import (
	"net/http"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const protobufContentType = "application/x-protobuf"

// wantsProtobuf returns true if the client asked for a protobuf response.
func wantsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.ToLower(strings.TrimSpace(mt)) {
		case protobufContentType, "application/protobuf":
			return true
		}
	}
	return false
}

// writeStruct writes fields as a google.protobuf.Struct, binary or JSON
// depending on the Accept header.
func writeStruct(w http.ResponseWriter, r *http.Request, status int, fields map[string]any) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "status encode error")
		return
	}

	var (
		data []byte
		ct   string
	)
	if wantsProtobuf(r) {
		data, err = proto.Marshal(msg)
		ct = protobufContentType
	} else {
		data, err = protojson.Marshal(msg)
		ct = "application/json"
	}
	if err != nil {
		// Fall back to a plain-text error if marshalling fails.
		http.Error(w, "status marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
