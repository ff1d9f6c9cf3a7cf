package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttemptKeyValidate(t *testing.T) {
	cases := []struct {
		name    string
		key     AttemptKey
		wantErr bool
	}{
		{name: "valid", key: AttemptKey{UserID: "u1", ExamID: "e1"}},
		{name: "uuid ids", key: AttemptKey{UserID: "3f1c2a9e-0d6b-4c55-9e0a-2b7c1d8e4f10", ExamID: "exam-42"}},
		{name: "blank user", key: AttemptKey{UserID: "  ", ExamID: "e1"}, wantErr: true},
		{name: "missing exam", key: AttemptKey{UserID: "u1"}, wantErr: true},
		{name: "separator in user", key: AttemptKey{UserID: "u:1", ExamID: "e1"}},
		{name: "separator in exam", key: AttemptKey{UserID: "u1", ExamID: "e:1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.key.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAttemptKeyString(t *testing.T) {
	require.Equal(t, "u1/e1", AttemptKey{UserID: "u1", ExamID: "e1"}.String())
}
