package eval

import "testing"

func TestContractsDatasetStructure(t *testing.T) {
	all := ContractsAllDatasets()
	if len(all) != 3 {
		t.Fatalf("got %d difficulty levels, want 3", len(all))
	}

	for diff, ds := range all {
		t.Run(diff, func(t *testing.T) {
			if ds.Name == "" {
				t.Error("dataset Name is empty")
			}
			if ds.Difficulty != diff {
				t.Errorf("difficulty %q filed under key %q", ds.Difficulty, diff)
			}
			if len(ds.Tests) == 0 {
				t.Fatal("dataset has no tests")
			}
			for i, tc := range ds.Tests {
				if tc.Question == "" {
					t.Errorf("test %d: Question is empty", i)
				}
				if len(tc.ExpectedFacts) == 0 {
					t.Errorf("test %d: ExpectedFacts is empty for %q", i, tc.Question)
				}
				if tc.Category == "" {
					t.Errorf("test %d: Category is empty for %q", i, tc.Question)
				}
				if tc.Explanation == "" {
					t.Errorf("test %d: Explanation is empty for %q", i, tc.Question)
				}
			}
		})
	}
}
