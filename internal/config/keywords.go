// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

// DefaultClassifier returns the built-in classifier configuration.
//
// The keyword dictionaries are bilingual (English + Russian). Russian
// entries are stems rather than full words so that a single entry covers
// the inflected forms ("рефактор" matches "рефакторинг", "рефакторить").
func DefaultClassifier() ClassifierConfig {
	return ClassifierConfig{
		Fallback: "casual",
		// Most specific first; generic "casual" never wins a tie.
		Priority: []string{"research", "code", "analysis", "content", "casual"},
		TierMap: map[string]string{
			"research": "research",
			"code":     "standard",
			"analysis": "standard",
			"content":  "cheap",
			"casual":   "free",
		},
		Keywords: map[string][]string{
			"research": {
				// EN
				"research", "find out", "search for", "compare", "alternatives",
				"what is", "how does", "explore", "investigate", "benchmark",
				"latest", "news", "look up",
				// RU
				"исследуй", "найди информацию", "сравни", "альтернатив",
				"что такое", "как работает", "изучи", "проанализируй рынок",
			},
			"code": {
				// EN
				"code", "implement", "function", "class", "module", "api",
				"refactor", "debug", "fix bug", "compile", "test", "regex",
				"script", "library", "endpoint",
				// RU
				"код", "реализуй", "функци", "класс", "модуль", "рефактор",
				"отладк", "исправь баг", "скрипт", "библиотек",
			},
			"analysis": {
				// EN
				"analyze", "analysis", "report", "data", "metrics", "evaluate",
				"summarize", "audit", "architecture", "design system",
				// RU
				"анализ", "отчет", "данны", "метрик", "оцени", "аудит",
				"архитектур", "спроектируй",
			},
			"content": {
				// EN
				"write", "article", "content", "blog", "documentation", "draft",
				"translate", "rewrite", "edit",
				// RU
				"напиши", "статья", "статью", "контент", "документаци",
				"переведи", "перепиши", "отредактируй",
			},
			"casual": {
				// EN
				"hello", "hi ", "thanks", "joke",
				// RU
				"привет", "спасибо", "шутк",
			},
		},
	}
}
