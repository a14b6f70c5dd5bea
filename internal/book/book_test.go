package book

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		title string
		want  string
	}{
		{"punctuation and spaces", "C++: Mining Data?", "C++_Mining_Data_"},
		{"forbidden characters", `a"b%c*d/e:f<g>h?i\j|k~l`, "a_b_c_d_e_f_g_h_i_j_k_l"},
		{"non ascii stripped", "Go言語 in Action", "Go_in_Action"},
		{"control characters stripped", "tab\tand\nnewline", "tab_and_newline"},
		{"empty", "", ""},
		{"already safe", "Effective_Go", "Effective_Go"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, SafeTitle(tc.title))
		})
	}
}

func TestSafeTitleDeterministic(t *testing.T) {
	t.Parallel()

	title := "Mastering Regular Expressions, 3rd Edition"
	require.Equal(t, SafeTitle(title), SafeTitle(title))
}

func TestMergeTags(t *testing.T) {
	t.Parallel()

	got := MergeTags([]string{"go", "databases"}, []string{"databases", "mining data"})
	require.Equal(t, []string{"go", "databases", "mining data"}, got)

	require.Empty(t, MergeTags(nil, nil))
	require.Equal(t, []string{"go"}, MergeTags(nil, []string{"go", "go"}))
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "not_acquired", StatusNotAcquired.String())
	require.Equal(t, "sent", StatusSent.String())
	require.Equal(t, "unknown", Status(99).String())
}
