package codec_test

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanedb/arcanedb/pkg/codec"
)

func Test_EncodeOrderedValue_PreservesIntOrdering_When_ComparedByteWise(t *testing.T) {
	t.Parallel()

	ints := []int64{-1 << 40, -1000, -1, 0, 1, 1000, 1 << 40}

	var encoded [][]byte

	for _, v := range ints {
		var buf bytes.Buffer

		err := codec.EncodeOrderedValue(&buf, codec.Int64(v))
		require.NoError(t, err)

		encoded = append(encoded, buf.Bytes())
	}

	for i := 1; i < len(encoded); i++ {
		require.Negative(t, bytes.Compare(encoded[i-1], encoded[i]),
			"encode(%d) should sort before encode(%d)", ints[i-1], ints[i])
	}
}

func Test_EncodeOrderedValue_PreservesFloatOrdering_When_ComparedByteWise(t *testing.T) {
	t.Parallel()

	floats := []float64{-1e100, -1.5, -0.0001, 0, 0.0001, 1.5, 1e100}

	var encoded [][]byte

	for _, v := range floats {
		var buf bytes.Buffer

		err := codec.EncodeOrderedValue(&buf, codec.Float64(v))
		require.NoError(t, err)

		encoded = append(encoded, buf.Bytes())
	}

	for i := 1; i < len(encoded); i++ {
		require.Negative(t, bytes.Compare(encoded[i-1], encoded[i]),
			"encode(%v) should sort before encode(%v)", floats[i-1], floats[i])
	}
}

func Test_EncodeOrderedValue_PreservesStringOrdering_When_ComparedByteWise(t *testing.T) {
	t.Parallel()

	strs := []string{"", "a", "ab", "abcdefgh", "abcdefghi", "abcdefghij", "b", "ba"}
	sorted := append([]string(nil), strs...)
	sort.Strings(sorted)

	var encoded [][]byte

	for _, s := range strs {
		var buf bytes.Buffer

		err := codec.EncodeOrderedValue(&buf, codec.String(s))
		require.NoError(t, err)

		encoded = append(encoded, buf.Bytes())
	}

	sortedEncoded := append([][]byte(nil), encoded...)
	sort.Slice(sortedEncoded, func(i, j int) bool { return bytes.Compare(sortedEncoded[i], sortedEncoded[j]) < 0 })

	for i, s := range sorted {
		var buf bytes.Buffer

		err := codec.EncodeOrderedValue(&buf, codec.String(s))
		require.NoError(t, err)
		require.Equal(t, buf.Bytes(), sortedEncoded[i], "mismatch at sorted index %d (%q)", i, s)
	}
}

func Test_DecodeOrderedValue_RoundTrips_When_GivenEncodedScalars(t *testing.T) {
	t.Parallel()

	values := []codec.Value{
		codec.Int8(-42),
		codec.Int16(-1234),
		codec.Int32(123456789),
		codec.Int64(-123456789012345),
		codec.Float32(3.14),
		codec.Float64(-2.71828),
		codec.Bool(true),
		codec.Bool(false),
		codec.String(""),
		codec.String("exactly8"),
		codec.String("a string longer than one eight-byte group"),
	}

	for _, v := range values {
		var buf bytes.Buffer

		err := codec.EncodeOrderedValue(&buf, v)
		require.NoError(t, err)

		r := bytes.NewReader(buf.Bytes())

		got, err := codec.DecodeOrderedValue(r)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Zero(t, r.Len(), "decoder should consume the entire encoding")
	}
}

func Test_SortKey_Compare_MatchesNaturalTupleOrder_When_Fuzzed(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))

	type tuple struct {
		a int32
		b string
	}

	var tuples []tuple

	for range 200 {
		tuples = append(tuples, tuple{
			a: rng.Int31n(2000) - 1000,
			b: randString(rng, rng.Intn(20)),
		})
	}

	encode := func(tp tuple) codec.SortKey {
		sk, err := codec.EncodeSortKey([]codec.Value{codec.Int32(tp.a), codec.String(tp.b)})
		require.NoError(t, err)

		return sk
	}

	for i := range tuples {
		for j := range tuples {
			natural := 0

			switch {
			case tuples[i].a < tuples[j].a:
				natural = -1
			case tuples[i].a > tuples[j].a:
				natural = 1
			case tuples[i].b < tuples[j].b:
				natural = -1
			case tuples[i].b > tuples[j].b:
				natural = 1
			}

			encoded := encode(tuples[i]).Compare(codec.SortKeyRef(encode(tuples[j])))
			require.Equal(t, sign(natural), sign(encoded), "tuple %d vs %d", i, j)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func randString(rng *rand.Rand, n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"

	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}

	return string(b)
}
