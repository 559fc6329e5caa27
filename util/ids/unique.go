package ids

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/t2bot/stream-uploader/util"
)

// NewUniqueId returns a random 40 character hex identifier, suitable for
// object names.
func NewUniqueId() (string, error) {
	b, err := util.GenerateRandomBytes(64)
	if err != nil {
		return "", err
	}
	return util.GetSha1OfString(string(b) + strconv.FormatInt(util.NowMillis(), 10)), nil
}

// NewUploadId identifies one upload session in logs.
func NewUploadId() string {
	return uuid.NewString()
}
