package helpers

import (
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// MaxFilenameLength is the rune limit applied by SanitizeFilename.
const MaxFilenameLength = 200

const invalidFilenameChars = `<>:"/\|?*`

// HashFile returns the upper-case hex BLAKE3 digest of a file's contents.
func HashFile(filepath string) (string, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", filepath, err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", filepath, err)
	}
	return strings.ToUpper(hex.EncodeToString(hasher.Sum(nil))), nil
}

// HashBytes returns the upper-case hex BLAKE3 digest of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// CounterWriter tracks the number of bytes written to the underlying writer.
// OnWrite, if set, is called after every write with the running total.
type CounterWriter struct {
	Total   uint64
	Writer  io.Writer
	OnWrite func(total uint64)
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	if cw.OnWrite != nil {
		cw.OnWrite(cw.Total)
	}
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1 // Handle very large sizes
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

var countUnits = []struct {
	size   float64
	suffix string
}{{1_000, "K"}, {1_000_000, "M"}, {1_000_000_000, "B"}}

// FormatCount abbreviates large counts: 42 -> "42", 1500 -> "1.5K", 2300000 -> "2.3M".
func FormatCount(n int64) string {
	abs := math.Abs(float64(n))
	if abs < countUnits[0].size {
		return strconv.FormatInt(n, 10)
	}
	i := 0
	for i+1 < len(countUnits) && abs >= countUnits[i+1].size {
		i++
	}
	// Rounding to one decimal can carry into the next unit (999950 -> 1000.0K).
	value := math.Round(abs/countUnits[i].size*10) / 10
	if value >= 1000 && i+1 < len(countUnits) {
		i++
		value = math.Round(abs/countUnits[i].size*10) / 10
	}
	if n < 0 {
		value = -value
	}
	s := strconv.FormatFloat(value, 'f', 1, 64)
	s = strings.TrimSuffix(s, ".0")
	return s + countUnits[i].suffix
}

// SanitizeFilename makes name safe to use as a single path component. It strips the
// characters <>:"/\|?* and control characters, collapses runs of whitespace, trims
// leading dots and spaces, and truncates to MaxFilenameLength runes. Empty results
// become "download".
func SanitizeFilename(name string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range name {
		if strings.ContainsRune(invalidFilenameChars, r) || (unicode.IsControl(r) && !unicode.IsSpace(r)) {
			continue
		}
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}

	out := strings.TrimLeft(b.String(), ". ")
	out = strings.TrimRight(out, " ")
	if utf8.RuneCountInString(out) > MaxFilenameLength {
		runes := []rune(out)
		out = strings.TrimRight(string(runes[:MaxFilenameLength]), " ")
	}
	if out == "" {
		return "download"
	}
	return out
}

// FilenameFromURL returns the last path segment of rawURL, or "" if there is none.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return base
}

// ExtensionFromURL returns the lower-case extension (without the dot) of the URL path.
func ExtensionFromURL(rawURL string) string {
	name := FilenameFromURL(rawURL)
	ext := path.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ConvertToSlug converts a string into a filesystem-friendly slug.
func ConvertToSlug(str string) string {
	str = strings.ReplaceAll(str, " ", "_")
	str = strings.ReplaceAll(str, ":", "-")
	str = strings.ToLower(str)

	allowedChars := "0123456789abcdefghijklmnopqrstuvwxyz._-"

	var filtered strings.Builder
	for _, ch := range str {
		if strings.ContainsRune(allowedChars, ch) {
			filtered.WriteRune(ch)
		}
	}
	str = filtered.String()

	// Simplify repeated separators
	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}
	for strings.Contains(str, "__") {
		str = strings.ReplaceAll(str, "__", "_")
	}
	str = strings.ReplaceAll(str, "-_", "-")
	str = strings.ReplaceAll(str, "_-", "-")

	return strings.Trim(str, "_-")
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
func CheckAndMakeDir(dir string) bool {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}
