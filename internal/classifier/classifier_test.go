package classifier

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainingSet() []Example {
	return []Example{
		{Text: "hello there friend", Intent: "greet"},
		{Text: "good morning team", Intent: "greet"},
		{Text: "hey hello", Intent: "greet"},
		{Text: "how is my score calculated", Intent: "scoring"},
		{Text: "explain the scoring system", Intent: "scoring"},
		{Text: "what does my test score mean", Intent: "scoring"},
		{Text: "reset my password please", Intent: "account"},
		{Text: "update my profile picture", Intent: "account"},
		{Text: "change account email", Intent: "account"},
	}
}

func TestTokenizeAndStopWords(t *testing.T) {
	assert.Equal(t, []string{"what", "is", "my", "score"}, Tokenize("What is my SCORE?"))
	assert.Equal(t, []string{"score"}, ContentTokens("What is my score?"))
	assert.Empty(t, ContentTokens("what is this"))
	assert.True(t, IsStopWord("The"))
	assert.Equal(t, []string{"Hi", "there"}, Words("Hi, there 42"))
}

func TestVectorizerNGramsAndCosine(t *testing.T) {
	v := NewVectorizer(VectorizerOptions{NGramMax: 2})
	assert.Equal(t, []string{"reset", "password", "reset password"}, NewVectorizer(VectorizerOptions{NGramMax: 2, StopWords: true}).Analyze("reset my password"))

	vecs := v.FitTransform([]string{"reset my password", "reset my password", "upload a resume"})
	assert.InDelta(t, 1.0, Cosine(vecs[0], vecs[1]), 1e-9)
	assert.InDelta(t, 0.0, Cosine(vecs[0], vecs[2]), 1e-9)
	assert.Equal(t, 0.0, Cosine(vecs[0], SparseVector{}))
	assert.Empty(t, v.Transform("completely unseen words"))
}

func TestVectorizerMaxFeatures(t *testing.T) {
	v := NewVectorizer(VectorizerOptions{MaxFeatures: 2})
	v.Fit([]string{"alpha alpha beta", "alpha gamma", "beta delta"})
	assert.Equal(t, 2, v.Size())
	_, hasAlpha := v.Vocabulary["alpha"]
	_, hasBeta := v.Vocabulary["beta"]
	assert.True(t, hasAlpha)
	assert.True(t, hasBeta)
}

func TestNaiveBayesPredict(t *testing.T) {
	nb := NewNaiveBayes()
	require.NoError(t, nb.Fit(trainingSet()))

	intent, conf := nb.Predict("how is the score calculated")
	assert.Equal(t, "scoring", intent)
	assert.Greater(t, conf, 0.5)
	assert.LessOrEqual(t, conf, 1.0)

	dist := nb.PredictAll("reset password")
	sum := 0.0
	for _, p := range dist {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Len(t, dist, 3)

	intent, conf = nb.Predict("zzz qqq")
	assert.Equal(t, FallbackIntent, intent)
	assert.Equal(t, 0.0, conf)
}

func TestNaiveBayesRejectsEmpty(t *testing.T) {
	assert.ErrorIs(t, NewNaiveBayes().Fit(nil), ErrNoExamples)
	assert.ErrorIs(t, NewNaiveBayes().Save("a", "b"), ErrNotFitted)
}

func TestNaiveBayesSaveLoad(t *testing.T) {
	dir := t.TempDir()
	nb := NewNaiveBayes()
	require.NoError(t, nb.Fit(trainingSet()))

	modelPath := filepath.Join(dir, "models", "v1_model.json")
	vecPath := filepath.Join(dir, "models", "v1_vectorizer.json")
	require.NoError(t, nb.Save(modelPath, vecPath))

	loaded, err := LoadNaiveBayes(modelPath, vecPath)
	require.NoError(t, err)

	for _, text := range []string{"good morning", "update my email", "scoring please"} {
		wantIntent, wantConf := nb.Predict(text)
		gotIntent, gotConf := loaded.Predict(text)
		assert.Equal(t, wantIntent, gotIntent)
		assert.InDelta(t, wantConf, gotConf, 1e-9)
	}

	_, err = LoadNaiveBayes(filepath.Join(dir, "missing.json"), vecPath)
	assert.Error(t, err)
}
